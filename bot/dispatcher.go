package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"telegram-audio-bot/extractor"
	"telegram-audio-bot/models"
	"telegram-audio-bot/queue"
	"telegram-audio-bot/utils"
)

var urlPattern = regexp.MustCompile(`https://\S+`)

// Messenger is the slice of the chat platform the dispatcher needs.
type Messenger interface {
	SendMessage(chatID int64, text string) (int, error)
	SendAudioPlaceholder(chatID int64) (int, error)
	SendPhoto(chatID int64, image []byte, caption string) error
	DeleteMessage(chatID int64, messageID int) error
}

// Flattener resolves collection metadata without downloading.
type Flattener interface {
	Flatten(ctx context.Context, url string) (*extractor.Info, error)
}

// Dispatcher turns one inbound message into zero or more download
// jobs, creating one placeholder per resolved item before its job is
// enqueued so the downstream stages always have a valid edit target.
type Dispatcher struct {
	messenger        Messenger
	enqueuer         queue.Enqueuer
	flattener        Flattener
	blockedProviders []string
	maxPlaylistItems int
	retry            utils.RetryPolicy
	pace             time.Duration
	fetchImage       func(ctx context.Context, url string) ([]byte, error)
	logger           *utils.Logger
}

func NewDispatcher(messenger Messenger, enqueuer queue.Enqueuer, flattener Flattener, config *utils.Config, logger *utils.Logger) *Dispatcher {
	retry := utils.DefaultRetryPolicy()
	// Placeholder creation retries any transient send failure, not
	// just flood control; a timeout leaves the message id unknown and
	// fails the item instead.
	retry.Retryable = func(err error) (time.Duration, bool) {
		if utils.IsTimeout(err) {
			return 0, false
		}
		if wait, ok := utils.RetryAfterOf(err); ok {
			return wait, true
		}
		return 0, true
	}

	return &Dispatcher{
		messenger:        messenger,
		enqueuer:         enqueuer,
		flattener:        flattener,
		blockedProviders: config.BlockedProviders,
		maxPlaylistItems: config.MaxPlaylistItems,
		retry:            retry,
		pace:             2 * time.Second,
		fetchImage:       fetchImage,
		logger:           logger,
	}
}

// ParseURLs extracts every well-formed https URL from free text.
func ParseURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// Dispatch processes one inbound message and returns the download jobs
// it enqueued. Failures on one URL never affect the others.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, chatID int64) []*models.Job {
	var jobs []*models.Job

	for _, url := range ParseURLs(text) {
		if provider, blocked := d.blockedProvider(url); blocked {
			if _, err := d.messenger.SendMessage(chatID, fmt.Sprintf("Sorry, I can't download from %s 😢", provider)); err != nil {
				d.logger.WithError(err).WithChatID(chatID).Warn("Failed to send blocked-provider notice")
			}
			continue
		}

		if strings.Contains(url, "playlist") {
			jobs = append(jobs, d.dispatchCollection(ctx, url, chatID)...)
		} else if job := d.dispatchItem(ctx, url, url, chatID); job != nil {
			jobs = append(jobs, job)
		}
	}

	return jobs
}

func (d *Dispatcher) blockedProvider(url string) (string, bool) {
	for _, provider := range d.blockedProviders {
		if strings.Contains(url, provider) {
			return provider, true
		}
	}
	return "", false
}

// dispatchCollection flattens a playlist-like URL, announces it, and
// expands it into one job per item up to the configured cap.
func (d *Dispatcher) dispatchCollection(ctx context.Context, url string, chatID int64) []*models.Job {
	info, err := d.flattener.Flatten(ctx, url)
	if err != nil {
		text := fmt.Sprintf("Something went wrong! 😢\n\n%s\n\n%s", url, utils.SanitizeError(err))
		if _, sendErr := d.messenger.SendMessage(chatID, text); sendErr != nil {
			d.logger.WithError(sendErr).WithChatID(chatID).Warn("Failed to report flatten failure")
		}
		return nil
	}

	entries := info.Entries
	if len(entries) > d.maxPlaylistItems {
		notice := fmt.Sprintf("Sorry, I can't download playlists with more than %d tracks. Downloading the first %d.", d.maxPlaylistItems, d.maxPlaylistItems)
		if _, err := d.messenger.SendMessage(chatID, notice); err != nil {
			d.logger.WithError(err).WithChatID(chatID).Warn("Failed to send playlist cap notice")
		}
		entries = entries[:d.maxPlaylistItems]
	}

	d.announceCollection(ctx, info, chatID)

	var jobs []*models.Job
	for i, entry := range entries {
		if job := d.dispatchItem(ctx, entry.URL, url, chatID); job != nil {
			jobs = append(jobs, job)
		}
		// Pace enqueues so placeholder sends do not trip flood control.
		if d.pace > 0 && i < len(entries)-1 {
			select {
			case <-ctx.Done():
				return jobs
			case <-time.After(d.pace):
			}
		}
	}
	return jobs
}

// announceCollection sends one informational message per collection:
// title, track count, optional release year and cover image. Cover
// failures fall back to plain text.
func (d *Dispatcher) announceCollection(ctx context.Context, info *extractor.Info, chatID int64) {
	caption := fmt.Sprintf("%s (%d tracks)", info.Title, info.ItemCount)
	if info.ReleaseYear != "" {
		caption = fmt.Sprintf("%s (%s)", caption, info.ReleaseYear)
	}

	if info.ThumbnailURL != "" {
		if image, err := d.fetchImage(ctx, info.ThumbnailURL); err == nil {
			if err := d.messenger.SendPhoto(chatID, image, caption); err == nil {
				return
			}
		}
	}
	if _, err := d.messenger.SendMessage(chatID, caption); err != nil {
		d.logger.WithError(err).WithChatID(chatID).Warn("Failed to announce collection")
	}
}

// dispatchItem sends the "Downloading..." notice and the placeholder,
// then enqueues exactly one download job for the item. Placeholder
// creation happens-before enqueue. Returns nil when the item was
// skipped.
func (d *Dispatcher) dispatchItem(ctx context.Context, itemURL, sourceURL string, chatID int64) *models.Job {
	// The notice is cosmetic progress text the delivery stage updates
	// and finally deletes. Losing it costs nothing.
	noticeID, err := d.messenger.SendMessage(chatID, fmt.Sprintf("Downloading %s", itemURL))
	if err != nil {
		d.logger.WithError(err).WithChatID(chatID).Warn("Failed to send download notice")
		noticeID = 0
	}

	var placeholderID int
	err = d.retry.Do(ctx, func() error {
		var err error
		placeholderID, err = d.messenger.SendAudioPlaceholder(chatID)
		return err
	})
	if err != nil {
		d.logger.WithError(err).WithChatID(chatID).WithField("url", itemURL).Error("Placeholder creation failed, skipping item")
		text := fmt.Sprintf("Couldn't start downloading %s 😢\n(%s)", itemURL, utils.SanitizeError(err))
		if _, sendErr := d.messenger.SendMessage(chatID, text); sendErr != nil {
			d.logger.WithError(sendErr).WithChatID(chatID).Warn("Failed to report skipped item")
		}
		return nil
	}

	job := &models.Job{
		ID:   uuid.NewString(),
		Kind: models.JobKindDownload,
		Correlation: models.Correlation{
			ChatID:        chatID,
			MessageID:     noticeID,
			PlaceholderID: placeholderID,
		},
		URL:      itemURL,
		GroupKey: queue.GroupKey(chatID, sourceURL),
		DedupKey: queue.DedupKey(chatID, itemURL),
	}

	if err := d.enqueuer.Enqueue(ctx, job); err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			// The same request is already in flight with its own
			// placeholder; remove the extra messages so nothing is
			// left saying "Downloading..." forever.
			d.logger.WithChatID(chatID).WithField("url", itemURL).Info("Duplicate request, removing extra placeholder")
			d.removeMessage(chatID, placeholderID)
			d.removeMessage(chatID, noticeID)
			return nil
		}

		d.logger.WithError(err).WithChatID(chatID).WithField("url", itemURL).Error("Failed to enqueue download job")
		text := fmt.Sprintf("Couldn't start downloading %s 😢\n(%s)", itemURL, utils.SanitizeError(err))
		if _, sendErr := d.messenger.SendMessage(chatID, text); sendErr != nil {
			d.logger.WithError(sendErr).WithChatID(chatID).Warn("Failed to report enqueue failure")
		}
		return nil
	}

	return job
}

func (d *Dispatcher) removeMessage(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := d.messenger.DeleteMessage(chatID, messageID); err != nil {
		d.logger.WithError(err).WithChatID(chatID).WithField("message_id", messageID).Warn("Failed to remove message")
	}
}

func fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching cover image", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
