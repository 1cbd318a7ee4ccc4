package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"telegram-audio-bot/models"
)

// ErrDuplicateJob reports an enqueue suppressed by the dedup window.
// Callers own the messages they created for the job and must clean
// them up or keep their records; the job was not queued.
var ErrDuplicateJob = errors.New("duplicate job within dedup window")

// Enqueuer is the single "enqueue job" capability. The stream backend
// gives grouped, deduplicated, at-least-once delivery; the topic
// backend fans out to every subscriber. Chosen by configuration.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// Handler processes one decoded job per received queue message. The
// queue may redeliver, so handlers must be safe to re-run.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// DedupKey derives the idempotency token for one logical request: the
// same chat asking for the same URL maps to the same key.
func DedupKey(chatID int64, url string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", chatID, url)))
	return hex.EncodeToString(sum[:16])
}

// GroupKey scopes relative ordering to one chat plus one source URL,
// so the items of a single playlist stay in submission order.
func GroupKey(chatID int64, sourceURL string) string {
	return fmt.Sprintf("%d-%s", chatID, sourceURL)
}

// Values flattens a job into string-typed queue message attributes.
// The body is kind-dependent (URL, artifact key or error text); the
// url attribute is carried separately so error and delivery messages
// stay replayable.
func Values(job *models.Job) map[string]any {
	values := map[string]any{
		"id":      job.ID,
		"kind":    string(job.Kind),
		"body":    job.Body(),
		"chat_id": strconv.FormatInt(job.ChatID, 10),
	}
	if job.MessageID != 0 {
		values["message_id"] = strconv.Itoa(job.MessageID)
	}
	if job.PlaceholderID != 0 {
		values["placeholder_id"] = strconv.Itoa(job.PlaceholderID)
	}
	if job.URL != "" {
		values["url"] = job.URL
	}
	if job.GroupKey != "" {
		values["group_key"] = job.GroupKey
	}
	return values
}

// FromValues rebuilds a job from queue message attributes.
func FromValues(values map[string]any) (*models.Job, error) {
	kind, ok := stringValue(values, "kind")
	if !ok {
		return nil, fmt.Errorf("message has no kind attribute")
	}
	body, _ := stringValue(values, "body")

	job := &models.Job{
		Kind: models.JobKind(kind),
	}
	job.ID, _ = stringValue(values, "id")
	job.URL, _ = stringValue(values, "url")
	job.GroupKey, _ = stringValue(values, "group_key")

	chatIDStr, ok := stringValue(values, "chat_id")
	if !ok {
		return nil, fmt.Errorf("message has no chat_id attribute")
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat_id '%s': %w", chatIDStr, err)
	}
	job.ChatID = chatID

	if s, ok := stringValue(values, "message_id"); ok {
		if job.MessageID, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("invalid message_id '%s': %w", s, err)
		}
	}
	if s, ok := stringValue(values, "placeholder_id"); ok {
		if job.PlaceholderID, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("invalid placeholder_id '%s': %w", s, err)
		}
	}

	switch job.Kind {
	case models.JobKindDownload:
		job.URL = body
	case models.JobKindDelivery:
		job.ArtifactKey = body
	case models.JobKindErrorNotify:
		job.ErrorText = body
	default:
		return nil, fmt.Errorf("unknown job kind '%s'", kind)
	}

	return job, nil
}

func stringValue(values map[string]any, key string) (string, bool) {
	v, ok := values[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
