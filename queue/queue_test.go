package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-audio-bot/models"
)

func TestValuesRoundTripDownload(t *testing.T) {
	job := &models.Job{
		ID:   "job-1",
		Kind: models.JobKindDownload,
		Correlation: models.Correlation{
			ChatID:        42,
			MessageID:     100,
			PlaceholderID: 101,
		},
		URL:      "https://example.com/watch?v=abc",
		GroupKey: GroupKey(42, "https://example.com/watch?v=abc"),
		DedupKey: DedupKey(42, "https://example.com/watch?v=abc"),
	}

	decoded, err := FromValues(Values(job))
	require.NoError(t, err)

	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Kind, decoded.Kind)
	assert.Equal(t, job.Correlation, decoded.Correlation)
	assert.Equal(t, job.URL, decoded.URL)
	assert.Equal(t, job.GroupKey, decoded.GroupKey)
}

func TestValuesRoundTripDelivery(t *testing.T) {
	job := &models.Job{
		ID:          "job-2",
		Kind:        models.JobKindDelivery,
		Correlation: models.Correlation{ChatID: 42, PlaceholderID: 101},
		URL:         "https://example.com/watch?v=abc",
		ArtifactKey: "42/deadbeef/abc.mp3",
	}

	decoded, err := FromValues(Values(job))
	require.NoError(t, err)

	assert.Equal(t, job.ArtifactKey, decoded.ArtifactKey)
	// The source URL rides along so a terminal failure stays replayable.
	assert.Equal(t, job.URL, decoded.URL)
}

func TestValuesRoundTripErrorNotice(t *testing.T) {
	job := &models.Job{
		ID:          "job-3",
		Kind:        models.JobKindErrorNotify,
		Correlation: models.Correlation{ChatID: 42, PlaceholderID: 101},
		URL:         "https://example.com/watch?v=abc",
		ErrorText:   "File too large!",
	}

	decoded, err := FromValues(Values(job))
	require.NoError(t, err)

	assert.Equal(t, job.ErrorText, decoded.ErrorText)
	assert.Equal(t, job.URL, decoded.URL)
}

func TestFromValuesRejectsMalformed(t *testing.T) {
	_, err := FromValues(map[string]any{"chat_id": "42"})
	assert.Error(t, err, "missing kind")

	_, err = FromValues(map[string]any{"kind": "download"})
	assert.Error(t, err, "missing chat_id")

	_, err = FromValues(map[string]any{"kind": "download", "chat_id": "not-a-number"})
	assert.Error(t, err)

	_, err = FromValues(map[string]any{"kind": "mystery", "chat_id": "42"})
	assert.Error(t, err)
}

func TestDedupKeyStableAndScoped(t *testing.T) {
	url := "https://example.com/watch?v=abc"

	assert.Equal(t, DedupKey(42, url), DedupKey(42, url))
	assert.NotEqual(t, DedupKey(42, url), DedupKey(43, url))
	assert.NotEqual(t, DedupKey(42, url), DedupKey(42, url+"x"))
	assert.Len(t, DedupKey(42, url), 32)
}

func TestGroupKeyScopesChatAndSource(t *testing.T) {
	assert.Equal(t, "42-https://example.com/playlist?list=p", GroupKey(42, "https://example.com/playlist?list=p"))
}
