package workers

import (
	"context"
	"errors"
	"fmt"

	"telegram-audio-bot/models"
	"telegram-audio-bot/storage"
	"telegram-audio-bot/utils"
)

// Messenger is the slice of the chat platform the delivery stage needs.
type Messenger interface {
	SendMessage(chatID int64, text string) (int, error)
	EditMessageText(chatID int64, messageID int, text string) error
	DeleteMessage(chatID int64, messageID int) error
	EditMessageAudio(chatID int64, messageID int, data []byte, title, artist string) error
}

// ArtifactFetcher reads and frees staged artifacts.
type ArtifactFetcher interface {
	Get(ctx context.Context, key string) ([]byte, map[string]string, error)
	Delete(ctx context.Context, key string) error
}

// ErrorRecorder persists terminal failures for replay.
type ErrorRecorder interface {
	Put(record *models.ErrorRecord) error
}

// DeliveryWorker consumes delivery and error-notice jobs: it finalizes
// the placeholder with the audio or a failure message, retries under
// rate limiting, and escalates exhausted jobs to the error store. It
// is the sole writer of the error store.
type DeliveryWorker struct {
	messenger Messenger
	artifacts ArtifactFetcher
	errors    ErrorRecorder
	retry     utils.RetryPolicy
	logger    *utils.Logger
}

func NewDeliveryWorker(messenger Messenger, artifacts ArtifactFetcher, errorStore ErrorRecorder, retry utils.RetryPolicy, logger *utils.Logger) *DeliveryWorker {
	return &DeliveryWorker{
		messenger: messenger,
		artifacts: artifacts,
		errors:    errorStore,
		retry:     retry,
		logger:    logger,
	}
}

func (dw *DeliveryWorker) Handle(ctx context.Context, job *models.Job) error {
	switch job.Kind {
	case models.JobKindErrorNotify:
		return dw.handleErrorNotice(job)
	case models.JobKindDelivery:
		return dw.handleDelivery(ctx, job)
	default:
		dw.logger.WithJobID(job.ID).WithField("kind", job.Kind).Error("Dropping job of unexpected kind")
		return nil
	}
}

// handleErrorNotice finalizes the placeholder with the failure text
// from an upstream stage and records it for replay.
func (dw *DeliveryWorker) handleErrorNotice(job *models.Job) error {
	text := failureText(job.URL, job.ErrorText)
	dw.editPlaceholderOrSend(job, text)
	return dw.record(job, job.ErrorText)
}

func (dw *DeliveryWorker) handleDelivery(ctx context.Context, job *models.Job) error {
	log := dw.logger.WithJobID(job.ID).WithChatID(job.ChatID).WithField("artifact", job.ArtifactKey)

	// Progress edit on the separate "Downloading..." notice, when one
	// exists. Purely cosmetic; failures are logged only.
	if job.MessageID != 0 && job.MessageID != job.PlaceholderID {
		if err := dw.messenger.EditMessageText(job.ChatID, job.MessageID, "Sending audio..."); err != nil {
			log.WithError(err).Warn("Progress edit failed")
		}
	}

	data, metadata, err := dw.artifacts.Get(ctx, job.ArtifactKey)
	if err != nil {
		if errors.Is(err, storage.ErrArtifactNotFound) {
			// A duplicate delivery already sent and freed it.
			log.Info("Artifact already gone, treating as delivered")
			return nil
		}
		return err
	}

	// Attach the audio to the placeholder, retrying the same edit
	// under rate limiting up to the ceiling. A request timeout is
	// treated as likely success: the platform commonly completes the
	// write anyway, and re-sending risks duplicate delivery.
	timedOut := false
	attachErr := dw.retry.Do(ctx, func() error {
		err := dw.messenger.EditMessageAudio(job.ChatID, job.PlaceholderID, data, metadata["title"], metadata["artist"])
		if utils.IsTimeout(err) {
			timedOut = true
			return nil
		}
		return err
	})
	if attachErr != nil {
		log.WithError(attachErr).Error("Attach failed terminally")
		dw.escalate(job, attachErr)
		return nil
	}

	if timedOut {
		log.Warn("Attach timed out, assuming the platform completed it")
	}

	// The artifact is redundant once attached; free it and clean up
	// the extra notice. Neither failure is worth escalating.
	if err := dw.artifacts.Delete(ctx, job.ArtifactKey); err != nil {
		log.WithError(err).Warn("Artifact cleanup failed")
	}
	if job.MessageID != 0 && job.MessageID != job.PlaceholderID {
		if err := dw.messenger.DeleteMessage(job.ChatID, job.MessageID); err != nil {
			log.WithError(err).Warn("Notice cleanup failed")
		}
	}

	log.Info("Audio delivered")
	return nil
}

// escalate finalizes the placeholder with a failure message and writes
// the one ErrorRecord for this job.
func (dw *DeliveryWorker) escalate(job *models.Job, cause error) {
	reason := utils.SanitizeError(cause)
	dw.editPlaceholderOrSend(job, failureText(job.URL, reason))
	if err := dw.record(job, reason); err != nil {
		dw.logger.WithError(err).WithJobID(job.ID).Error("Failed to record terminal failure")
	}
}

// editPlaceholderOrSend edits the placeholder in place, falling back
// to a fresh message when the edit target no longer exists.
func (dw *DeliveryWorker) editPlaceholderOrSend(job *models.Job, text string) {
	if err := dw.messenger.EditMessageText(job.ChatID, job.PlaceholderID, text); err != nil {
		dw.logger.WithError(err).WithChatID(job.ChatID).Warn("Cannot edit placeholder, sending new message")
		if _, err := dw.messenger.SendMessage(job.ChatID, text); err != nil {
			dw.logger.WithError(err).WithChatID(job.ChatID).Error("Failed to notify user of failure")
		}
	}
}

func (dw *DeliveryWorker) record(job *models.Job, reason string) error {
	record := &models.ErrorRecord{
		ChatID:    job.ChatID,
		MessageID: job.PlaceholderID,
		URL:       job.URL,
		Reason:    reason,
	}
	if err := dw.errors.Put(record); err != nil {
		return fmt.Errorf("failed to store error record: %w", err)
	}
	return nil
}

func failureText(url, reason string) string {
	return fmt.Sprintf("😭 Sending mp3 from %s failed\n(%s)", url, reason)
}
