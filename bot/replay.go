package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"telegram-audio-bot/models"
	"telegram-audio-bot/queue"
	"telegram-audio-bot/utils"
)

// ErrorLister reads and clears stored terminal failures.
type ErrorLister interface {
	ListByChat(chatID int64) ([]*models.ErrorRecord, error)
	Delete(chatID int64, messageID int) error
}

// Replayer re-enqueues every stored failure for a chat as a fresh
// download job. The original placeholder id is reused as the edit
// target, so the replay finalizes the same message the failure left
// behind.
type Replayer struct {
	errors   ErrorLister
	enqueuer queue.Enqueuer
	notifier interface {
		SendMessage(chatID int64, text string) (int, error)
	}
	pace   time.Duration
	logger *utils.Logger
}

func NewReplayer(errors ErrorLister, enqueuer queue.Enqueuer, notifier Messenger, logger *utils.Logger) *Replayer {
	return &Replayer{
		errors:   errors,
		enqueuer: enqueuer,
		notifier: notifier,
		pace:     2 * time.Second,
		logger:   logger,
	}
}

// Replay re-enqueues each stored failure and clears its record on
// successful enqueue. A failed enqueue keeps the record so a later
// /retry can pick it up again. Returns the number of jobs enqueued.
func (r *Replayer) Replay(ctx context.Context, chatID int64) (int, error) {
	records, err := r.errors.ListByChat(chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to list error records: %w", err)
	}

	replayed := 0
	for i, record := range records {
		// Pace re-enqueues the same way the dispatcher paces playlist
		// items.
		if d := r.pace; d > 0 && i > 0 {
			select {
			case <-ctx.Done():
				return replayed, ctx.Err()
			case <-time.After(d):
			}
		}

		// No dedup key: the failed dispatch may still hold the window,
		// and an explicit /retry must always go through.
		job := &models.Job{
			ID:   uuid.NewString(),
			Kind: models.JobKindDownload,
			Correlation: models.Correlation{
				ChatID:        record.ChatID,
				PlaceholderID: record.MessageID,
			},
			URL:      record.URL,
			GroupKey: queue.GroupKey(record.ChatID, record.URL),
		}

		if err := r.enqueuer.Enqueue(ctx, job); err != nil {
			r.logger.WithError(err).WithChatID(chatID).WithField("url", record.URL).Error("Failed to re-enqueue stored failure")
			if _, sendErr := r.notifier.SendMessage(chatID, fmt.Sprintf("Failed to retry %s: %v", record.URL, err)); sendErr != nil {
				r.logger.WithError(sendErr).WithChatID(chatID).Warn("Failed to notify user of replay failure")
			}
			continue
		}

		if err := r.errors.Delete(record.ChatID, record.MessageID); err != nil {
			r.logger.WithError(err).WithChatID(chatID).Warn("Failed to clear replayed record")
		}
		replayed++
	}

	return replayed, nil
}
