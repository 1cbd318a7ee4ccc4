package models

import (
	"time"
)

type JobKind string

const (
	JobKindDownload    JobKind = "download"
	JobKindDelivery    JobKind = "delivery"
	JobKindErrorNotify JobKind = "error_notify"
)

// Correlation addresses exactly one placeholder notification in one chat.
// MessageID is the "Downloading..." notice when it is distinct from the
// placeholder; zero when there is no separate notice.
type Correlation struct {
	ChatID        int64 `json:"chat_id"`
	MessageID     int   `json:"message_id"`
	PlaceholderID int   `json:"placeholder_id"`
}

type Job struct {
	ID   string  `json:"id"`
	Kind JobKind `json:"kind"`
	Correlation

	// URL is the source URL. Set on download jobs, carried through on
	// delivery and error jobs so terminal failures stay replayable.
	URL string `json:"url,omitempty"`

	// ArtifactKey is the object store key of the staged audio file.
	// Set on delivery jobs only.
	ArtifactKey string `json:"artifact_key,omitempty"`

	// ErrorText is the sanitized failure description on error jobs.
	ErrorText string `json:"error_text,omitempty"`

	// GroupKey scopes relative ordering, one chat plus source URL.
	GroupKey string `json:"group_key,omitempty"`

	// DedupKey suppresses duplicate enqueues of the same logical
	// request within the queue's dedup window. Empty skips dedup.
	DedupKey string `json:"dedup_key,omitempty"`
}

// Body returns the queue message payload for the job's kind: the source
// URL for downloads, the artifact key for deliveries and the failure
// text for error notices.
func (j *Job) Body() string {
	switch j.Kind {
	case JobKindDelivery:
		return j.ArtifactKey
	case JobKindErrorNotify:
		return j.ErrorText
	default:
		return j.URL
	}
}

// ErrorRecord is a terminal failure kept for user-triggered replay.
// Keyed by (ChatID, MessageID) where MessageID is the placeholder the
// failure was reported on.
type ErrorRecord struct {
	ChatID    int64     `json:"chat_id"`
	MessageID int       `json:"message_id"`
	URL       string    `json:"url"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
