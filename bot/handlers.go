package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = `Send me a link and I'll reply with the audio as an mp3.

Playlists work too: I download up to 30 tracks per playlist.
Files over 50MB can't be sent.

Commands:
/retry - replay your failed downloads
/help - show this message`

// Start runs the update loop until Stop is called or the context ends.
func (tb *TelegramBot) Start(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30

	updates := tb.api.GetUpdatesChan(updateConfig)
	tb.logger.Info("Telegram bot started, listening for updates")

	for {
		select {
		case <-ctx.Done():
			return
		case <-tb.stopChan:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			tb.handleMessage(ctx, update.Message)
		}
	}
}

func (tb *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	log := tb.logger.WithChatID(chatID)

	switch message.Command() {
	case "start", "help":
		if _, err := tb.SendMessage(chatID, helpText); err != nil {
			log.WithError(err).Warn("Failed to send help text")
		}
	case "retry":
		tb.handleRetry(ctx, chatID)
	default:
		if tb.dispatcher == nil {
			log.Warn("Dispatcher not wired, dropping message")
			return
		}
		jobs := tb.dispatcher.Dispatch(ctx, message.Text, chatID)
		log.WithField("jobs", len(jobs)).Debug("Message dispatched")
	}
}

func (tb *TelegramBot) handleRetry(ctx context.Context, chatID int64) {
	log := tb.logger.WithChatID(chatID)
	if tb.replayer == nil {
		log.Warn("Replayer not wired, ignoring /retry")
		return
	}

	replayed, err := tb.replayer.Replay(ctx, chatID)
	if err != nil {
		log.WithError(err).Error("Replay failed")
		if _, sendErr := tb.SendMessage(chatID, "Something went wrong while retrying, please try again later."); sendErr != nil {
			log.WithError(sendErr).Warn("Failed to report replay failure")
		}
		return
	}

	var text string
	switch replayed {
	case 0:
		text = "Nothing to retry 🎉"
	case 1:
		text = "Retrying 1 download..."
	default:
		text = fmt.Sprintf("Retrying %d downloads...", replayed)
	}
	if _, err := tb.SendMessage(chatID, text); err != nil {
		log.WithError(err).Warn("Failed to send retry summary")
	}
}
