package workers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-audio-bot/extractor"
	"telegram-audio-bot/models"
	"telegram-audio-bot/storage"
	"telegram-audio-bot/utils"
)

type fakeExtractor struct {
	files         []extractor.File
	err           error
	downloadCalls int
}

func (f *fakeExtractor) Flatten(ctx context.Context, url string) (*extractor.Info, error) {
	return nil, errors.New("not used")
}

func (f *fakeExtractor) Download(ctx context.Context, url string) ([]extractor.File, error) {
	f.downloadCalls++
	return f.files, f.err
}

type fakeArtifacts struct {
	existing []string
	listErr  error
	putErr   error
	puts     map[string]map[string]string
}

func (f *fakeArtifacts) List(ctx context.Context, prefix string) ([]string, error) {
	return f.existing, f.listErr
}

func (f *fakeArtifacts) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.puts == nil {
		f.puts = make(map[string]map[string]string)
	}
	f.puts[key] = metadata
	return nil
}

type fakeEnqueuer struct {
	jobs []*models.Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job *models.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func downloadJob() *models.Job {
	return &models.Job{
		ID:   "job-1",
		Kind: models.JobKindDownload,
		Correlation: models.Correlation{
			ChatID:        42,
			MessageID:     100,
			PlaceholderID: 101,
		},
		URL:      "https://example.com/watch?v=abc",
		GroupKey: "42-https://example.com/watch?v=abc",
	}
}

func writeScratchFile(t *testing.T, name string, size int) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "extract-test")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	return path
}

func TestDownloadSkipsExtractionWhenArtifactsExist(t *testing.T) {
	ext := &fakeExtractor{}
	artifacts := &fakeArtifacts{existing: []string{"42/hash/abc.mp3", "42/hash/def.mp3"}}
	deliveries := &fakeEnqueuer{}
	worker := NewDownloadWorker(ext, artifacts, deliveries, 50_000_000, utils.NewTestLogger())

	err := worker.Handle(context.Background(), downloadJob())

	require.NoError(t, err)
	assert.Zero(t, ext.downloadCalls)
	require.Len(t, deliveries.jobs, 2)
	assert.Equal(t, models.JobKindDelivery, deliveries.jobs[0].Kind)
	assert.Equal(t, "42/hash/abc.mp3", deliveries.jobs[0].ArtifactKey)
	assert.Equal(t, "42/hash/def.mp3", deliveries.jobs[1].ArtifactKey)
}

func TestDownloadStagesAndHandsOff(t *testing.T) {
	path := writeScratchFile(t, "abc.mp3", 1024)
	ext := &fakeExtractor{files: []extractor.File{{
		Path:   path,
		ID:     "abc",
		Title:  "Track",
		Artist: "Artist",
		Ext:    "mp3",
		Size:   1024,
	}}}
	artifacts := &fakeArtifacts{}
	deliveries := &fakeEnqueuer{}
	worker := NewDownloadWorker(ext, artifacts, deliveries, 50_000_000, utils.NewTestLogger())

	job := downloadJob()
	err := worker.Handle(context.Background(), job)
	require.NoError(t, err)

	wantKey := storage.ArtifactKey(42, job.URL, "abc", "mp3")
	require.Contains(t, artifacts.puts, wantKey)
	assert.Equal(t, "Track", artifacts.puts[wantKey]["title"])
	assert.Equal(t, "Artist", artifacts.puts[wantKey]["artist"])

	require.Len(t, deliveries.jobs, 1)
	delivery := deliveries.jobs[0]
	assert.Equal(t, models.JobKindDelivery, delivery.Kind)
	assert.Equal(t, wantKey, delivery.ArtifactKey)
	assert.Equal(t, job.Correlation, delivery.Correlation)
	assert.Equal(t, job.URL, delivery.URL)
	assert.NotEqual(t, job.ID, delivery.ID)

	// Scratch directory is cleaned up after staging.
	_, statErr := os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadRejectsOversizedFile(t *testing.T) {
	path := writeScratchFile(t, "abc.mp3", 10)
	ext := &fakeExtractor{files: []extractor.File{{
		Path: path, ID: "abc", Title: "Track", Ext: "mp3", Size: 60_000_000,
	}}}
	artifacts := &fakeArtifacts{}
	deliveries := &fakeEnqueuer{}
	worker := NewDownloadWorker(ext, artifacts, deliveries, 50_000_000, utils.NewTestLogger())

	err := worker.Handle(context.Background(), downloadJob())
	require.NoError(t, err)

	assert.Empty(t, artifacts.puts)
	require.Len(t, deliveries.jobs, 1)
	assert.Equal(t, models.JobKindErrorNotify, deliveries.jobs[0].Kind)
	assert.Equal(t, "File too large!", deliveries.jobs[0].ErrorText)
}

func TestDownloadEmitsErrorNoticeOnExtractionFailure(t *testing.T) {
	ext := &fakeExtractor{err: errors.New("ERROR: video unavailable")}
	deliveries := &fakeEnqueuer{}
	worker := NewDownloadWorker(ext, &fakeArtifacts{}, deliveries, 50_000_000, utils.NewTestLogger())

	job := downloadJob()
	err := worker.Handle(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, deliveries.jobs, 1)
	notice := deliveries.jobs[0]
	assert.Equal(t, models.JobKindErrorNotify, notice.Kind)
	assert.Equal(t, "ERROR: video unavailable", notice.ErrorText)
	assert.Equal(t, job.URL, notice.URL)
	assert.Equal(t, job.Correlation, notice.Correlation)
}

func TestDownloadPropagatesIdempotencyCheckFailure(t *testing.T) {
	artifacts := &fakeArtifacts{listErr: errors.New("connection refused")}
	ext := &fakeExtractor{}
	worker := NewDownloadWorker(ext, artifacts, &fakeEnqueuer{}, 50_000_000, utils.NewTestLogger())

	err := worker.Handle(context.Background(), downloadJob())

	// Transient store failures surface so the queue redelivers.
	require.Error(t, err)
	assert.Zero(t, ext.downloadCalls)
}

func TestDownloadPropagatesEnqueueFailure(t *testing.T) {
	path := writeScratchFile(t, "abc.mp3", 10)
	ext := &fakeExtractor{files: []extractor.File{{
		Path: path, ID: "abc", Ext: "mp3", Size: 10,
	}}}
	deliveries := &fakeEnqueuer{err: errors.New("queue down")}
	worker := NewDownloadWorker(ext, &fakeArtifacts{}, deliveries, 50_000_000, utils.NewTestLogger())

	err := worker.Handle(context.Background(), downloadJob())
	require.Error(t, err)
}
