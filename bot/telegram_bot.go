package bot

import (
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-audio-bot/utils"
)

// TelegramBot wraps the Bot API client. Every outbound call classifies
// platform errors so callers can tell a flood-control wait from a
// client-side timeout from a plain failure.
type TelegramBot struct {
	api        *tgbotapi.BotAPI
	config     *utils.Config
	logger     *utils.Logger
	dispatcher *Dispatcher
	replayer   *Replayer
	stopChan   chan struct{}
}

func NewTelegramBot(config *utils.Config, logger *utils.Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(config.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.WithField("username", api.Self.UserName).Info("Telegram bot authorized")

	return &TelegramBot{
		api:      api,
		config:   config,
		logger:   logger,
		stopChan: make(chan struct{}),
	}, nil
}

func (tb *TelegramBot) SetDispatcher(d *Dispatcher) {
	tb.dispatcher = d
}

func (tb *TelegramBot) SetReplayer(r *Replayer) {
	tb.replayer = r
}

func (tb *TelegramBot) Stop() {
	close(tb.stopChan)
	tb.api.StopReceivingUpdates()
}

// SendMessage sends plain text and returns the new message id.
func (tb *TelegramBot) SendMessage(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := tb.api.Send(msg)
	if err != nil {
		return 0, classifyAPIError(err)
	}
	return sent.MessageID, nil
}

func (tb *TelegramBot) EditMessageText(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	_, err := tb.api.Send(edit)
	return classifyAPIError(err)
}

func (tb *TelegramBot) DeleteMessage(chatID int64, messageID int) error {
	_, err := tb.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return classifyAPIError(err)
}

// SendAudioPlaceholder sends the editable audio placeholder that the
// delivery stage later mutates into the real track. The payload is a
// second of silence; Telegram only allows edit-message-media on a
// message that already carries media.
func (tb *TelegramBot) SendAudioPlaceholder(chatID int64) (int, error) {
	audio := tgbotapi.NewAudio(chatID, tgbotapi.FileBytes{
		Name:  "placeholder.wav",
		Bytes: silentWAV(),
	})
	audio.Title = "Downloading..."

	sent, err := tb.api.Send(audio)
	if err != nil {
		return 0, classifyAPIError(err)
	}
	return sent.MessageID, nil
}

func (tb *TelegramBot) SendPhoto(chatID int64, image []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  "cover.jpg",
		Bytes: image,
	})
	photo.Caption = caption
	_, err := tb.api.Send(photo)
	return classifyAPIError(err)
}

// EditMessageAudio replaces a placeholder's media with the final track.
func (tb *TelegramBot) EditMessageAudio(chatID int64, messageID int, data []byte, title, artist string) error {
	media := tgbotapi.NewInputMediaAudio(tgbotapi.FileBytes{
		Name:  fmt.Sprintf("%s.mp3", title),
		Bytes: data,
	})
	media.Title = title
	media.Performer = artist

	edit := tgbotapi.EditMessageMediaConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:    chatID,
			MessageID: messageID,
		},
		Media: media,
	}
	_, err := tb.api.Send(edit)
	return classifyAPIError(err)
}

// classifyAPIError maps flood-control responses onto RateLimitError so
// retry policies can honor the platform-provided wait. Other errors,
// including timeouts, pass through for the callers to classify.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return &utils.RateLimitError{
			RetryAfter: time.Duration(tgErr.RetryAfter) * time.Second,
			Err:        err,
		}
	}
	return err
}
