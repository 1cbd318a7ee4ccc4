package workers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"telegram-audio-bot/extractor"
	"telegram-audio-bot/models"
	"telegram-audio-bot/queue"
	"telegram-audio-bot/storage"
	"telegram-audio-bot/utils"
)

// Artifacts is the slice of the artifact store the download stage needs.
type Artifacts interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
}

// DownloadWorker consumes download jobs: checks whether the artifact
// already exists, runs the extractor otherwise, stages the result and
// hands off to the delivery stage. The queue may redeliver, so every
// path here is safe to re-run.
type DownloadWorker struct {
	extractor   extractor.Extractor
	artifacts   Artifacts
	deliveries  queue.Enqueuer
	maxFileSize int64
	logger      *utils.Logger
}

func NewDownloadWorker(ext extractor.Extractor, artifacts Artifacts, deliveries queue.Enqueuer, maxFileSize int64, logger *utils.Logger) *DownloadWorker {
	return &DownloadWorker{
		extractor:   ext,
		artifacts:   artifacts,
		deliveries:  deliveries,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

func (dw *DownloadWorker) Handle(ctx context.Context, job *models.Job) error {
	log := dw.logger.WithJobID(job.ID).WithChatID(job.ChatID).WithField("url", job.URL)

	// A prior run may have downloaded successfully and crashed before
	// notifying. Existing artifacts under the prefix mean "already
	// downloaded": emit delivery jobs directly, skip the extractor.
	prefix := storage.ArtifactPrefix(job.ChatID, job.URL)
	existing, err := dw.artifacts.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if len(existing) > 0 {
		log.WithField("artifacts", len(existing)).Info("Artifacts already staged, skipping extraction")
		for _, key := range existing {
			if err := dw.emitDelivery(ctx, job, key); err != nil {
				return err
			}
		}
		return nil
	}

	files, err := dw.extractor.Download(ctx, job.URL)
	if err != nil {
		// Extraction failures are terminal for this job; the user can
		// replay them explicitly via /retry.
		log.WithError(err).Warn("Extraction failed")
		return dw.emitError(ctx, job, utils.SanitizeError(err))
	}

	// All produced files share one scratch directory.
	defer os.RemoveAll(filepath.Dir(files[0].Path))

	for _, file := range files {
		if err := dw.stageFile(ctx, job, file, log); err != nil {
			return err
		}
	}
	return nil
}

func (dw *DownloadWorker) stageFile(ctx context.Context, job *models.Job, file extractor.File, log *utils.Entry) error {
	if file.Size >= dw.maxFileSize {
		// Retrying cannot change the file size.
		return dw.emitError(ctx, job, "File too large!")
	}

	data, err := os.ReadFile(file.Path)
	if err != nil {
		return fmt.Errorf("failed to read produced file: %w", err)
	}

	key := storage.ArtifactKey(job.ChatID, job.URL, file.ID, file.Ext)
	metadata := map[string]string{
		"title":  file.Title,
		"artist": file.Artist,
	}
	if err := dw.artifacts.Put(ctx, key, data, metadata); err != nil {
		return fmt.Errorf("failed to stage artifact: %w", err)
	}

	log.Infof("Artifact staged at %s", key)
	return dw.emitDelivery(ctx, job, key)
}

func (dw *DownloadWorker) emitDelivery(ctx context.Context, job *models.Job, artifactKey string) error {
	delivery := &models.Job{
		ID:          uuid.NewString(),
		Kind:        models.JobKindDelivery,
		Correlation: job.Correlation,
		URL:         job.URL,
		ArtifactKey: artifactKey,
		GroupKey:    job.GroupKey,
	}
	if err := dw.deliveries.Enqueue(ctx, delivery); err != nil {
		return fmt.Errorf("failed to enqueue delivery job: %w", err)
	}
	return nil
}

func (dw *DownloadWorker) emitError(ctx context.Context, job *models.Job, reason string) error {
	notify := &models.Job{
		ID:          uuid.NewString(),
		Kind:        models.JobKindErrorNotify,
		Correlation: job.Correlation,
		URL:         job.URL,
		ErrorText:   reason,
		GroupKey:    job.GroupKey,
	}
	if err := dw.deliveries.Enqueue(ctx, notify); err != nil {
		return fmt.Errorf("failed to enqueue error notice: %w", err)
	}
	return nil
}
