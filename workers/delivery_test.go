package workers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-audio-bot/models"
	"telegram-audio-bot/storage"
	"telegram-audio-bot/utils"
)

type sentText struct {
	chatID    int64
	messageID int
	text      string
}

type fakeMessenger struct {
	attachErr     error
	attachErrs    []error // consumed per attempt when set
	editTextErr   error
	sendErr       error
	attachCalls   int
	edits         []sentText
	sends         []sentText
	deletedIDs    []int
	attachedTitle string
}

func (f *fakeMessenger) SendMessage(chatID int64, text string) (int, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sends = append(f.sends, sentText{chatID: chatID, text: text})
	return 900 + len(f.sends), nil
}

func (f *fakeMessenger) EditMessageText(chatID int64, messageID int, text string) error {
	if f.editTextErr != nil {
		return f.editTextErr
	}
	f.edits = append(f.edits, sentText{chatID: chatID, messageID: messageID, text: text})
	return nil
}

func (f *fakeMessenger) DeleteMessage(chatID int64, messageID int) error {
	f.deletedIDs = append(f.deletedIDs, messageID)
	return nil
}

func (f *fakeMessenger) EditMessageAudio(chatID int64, messageID int, data []byte, title, artist string) error {
	f.attachCalls++
	f.attachedTitle = title
	if len(f.attachErrs) > 0 {
		err := f.attachErrs[0]
		f.attachErrs = f.attachErrs[1:]
		return err
	}
	return f.attachErr
}

type fakeFetcher struct {
	data     []byte
	metadata map[string]string
	getErr   error
	deleted  []string
}

func (f *fakeFetcher) Get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	if f.getErr != nil {
		return nil, nil, f.getErr
	}
	return f.data, f.metadata, nil
}

func (f *fakeFetcher) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeRecorder struct {
	records []*models.ErrorRecord
	err     error
}

func (f *fakeRecorder) Put(record *models.ErrorRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func testRetryPolicy() utils.RetryPolicy {
	policy := utils.DefaultRetryPolicy()
	policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return policy
}

func deliveryJob() *models.Job {
	return &models.Job{
		ID:   "job-1",
		Kind: models.JobKindDelivery,
		Correlation: models.Correlation{
			ChatID:        42,
			MessageID:     100,
			PlaceholderID: 101,
		},
		URL:         "https://example.com/watch?v=abc",
		ArtifactKey: "42/hash/abc.mp3",
	}
}

func TestDeliverySuccess(t *testing.T) {
	messenger := &fakeMessenger{}
	fetcher := &fakeFetcher{
		data:     []byte("mp3-bytes"),
		metadata: map[string]string{"title": "Track", "artist": "Artist"},
	}
	recorder := &fakeRecorder{}
	worker := NewDeliveryWorker(messenger, fetcher, recorder, testRetryPolicy(), utils.NewTestLogger())

	err := worker.Handle(context.Background(), deliveryJob())
	require.NoError(t, err)

	assert.Equal(t, 1, messenger.attachCalls)
	assert.Equal(t, "Track", messenger.attachedTitle)

	// Progress edit went to the separate notice, not the placeholder.
	require.Len(t, messenger.edits, 1)
	assert.Equal(t, 100, messenger.edits[0].messageID)
	assert.Equal(t, "Sending audio...", messenger.edits[0].text)

	assert.Equal(t, []string{"42/hash/abc.mp3"}, fetcher.deleted)
	assert.Equal(t, []int{100}, messenger.deletedIDs)
	assert.Empty(t, recorder.records)
}

func TestDeliverySkipsProgressEditWithoutSeparateNotice(t *testing.T) {
	messenger := &fakeMessenger{}
	fetcher := &fakeFetcher{data: []byte("x"), metadata: map[string]string{}}
	worker := NewDeliveryWorker(messenger, fetcher, &fakeRecorder{}, testRetryPolicy(), utils.NewTestLogger())

	job := deliveryJob()
	job.MessageID = job.PlaceholderID
	require.NoError(t, worker.Handle(context.Background(), job))

	assert.Empty(t, messenger.edits)
	assert.Empty(t, messenger.deletedIDs)
}

func TestDeliveryRetriesRateLimitToCeiling(t *testing.T) {
	messenger := &fakeMessenger{
		attachErr: &utils.RateLimitError{RetryAfter: time.Second, Err: errors.New("429")},
	}
	fetcher := &fakeFetcher{data: []byte("x"), metadata: map[string]string{}}
	recorder := &fakeRecorder{}
	worker := NewDeliveryWorker(messenger, fetcher, recorder, testRetryPolicy(), utils.NewTestLogger())

	job := deliveryJob()
	err := worker.Handle(context.Background(), job)

	// Exhaustion is terminal: escalate, never redeliver.
	require.NoError(t, err)
	assert.Equal(t, 5, messenger.attachCalls)

	require.Len(t, recorder.records, 1)
	record := recorder.records[0]
	assert.Equal(t, int64(42), record.ChatID)
	assert.Equal(t, 101, record.MessageID)
	assert.Equal(t, job.URL, record.URL)
	// The stored reason is the root cause, not retry bookkeeping.
	assert.Equal(t, "rate limited, retry after 1s: 429", record.Reason)

	// The placeholder itself carries the failure text.
	var placeholderEdit *sentText
	for i := range messenger.edits {
		if messenger.edits[i].messageID == 101 {
			placeholderEdit = &messenger.edits[i]
		}
	}
	require.NotNil(t, placeholderEdit)
	assert.Equal(t, fmt.Sprintf("😭 Sending mp3 from %s failed\n(%s)", job.URL, record.Reason), placeholderEdit.text)

	assert.Empty(t, fetcher.deleted)
}

func TestDeliveryTreatsTimeoutAsDelivered(t *testing.T) {
	messenger := &fakeMessenger{attachErr: context.DeadlineExceeded}
	fetcher := &fakeFetcher{data: []byte("x"), metadata: map[string]string{}}
	recorder := &fakeRecorder{}
	worker := NewDeliveryWorker(messenger, fetcher, recorder, testRetryPolicy(), utils.NewTestLogger())

	err := worker.Handle(context.Background(), deliveryJob())
	require.NoError(t, err)

	// One attempt only, then treated as success: artifact freed, no record.
	assert.Equal(t, 1, messenger.attachCalls)
	assert.Equal(t, []string{"42/hash/abc.mp3"}, fetcher.deleted)
	assert.Empty(t, recorder.records)
}

func TestDeliveryRecoversAfterTransientRateLimit(t *testing.T) {
	messenger := &fakeMessenger{
		attachErrs: []error{
			&utils.RateLimitError{Err: errors.New("429")},
			&utils.RateLimitError{Err: errors.New("429")},
			nil,
		},
	}
	fetcher := &fakeFetcher{data: []byte("x"), metadata: map[string]string{}}
	recorder := &fakeRecorder{}
	worker := NewDeliveryWorker(messenger, fetcher, recorder, testRetryPolicy(), utils.NewTestLogger())

	require.NoError(t, worker.Handle(context.Background(), deliveryJob()))
	assert.Equal(t, 3, messenger.attachCalls)
	assert.Empty(t, recorder.records)
	assert.Len(t, fetcher.deleted, 1)
}

func TestDeliveryMissingArtifactMeansAlreadySent(t *testing.T) {
	messenger := &fakeMessenger{}
	fetcher := &fakeFetcher{getErr: fmt.Errorf("%w: 42/hash/abc.mp3", storage.ErrArtifactNotFound)}
	worker := NewDeliveryWorker(messenger, fetcher, &fakeRecorder{}, testRetryPolicy(), utils.NewTestLogger())

	err := worker.Handle(context.Background(), deliveryJob())
	require.NoError(t, err)
	assert.Zero(t, messenger.attachCalls)
}

func TestDeliveryPropagatesTransientFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{getErr: errors.New("connection refused")}
	worker := NewDeliveryWorker(&fakeMessenger{}, fetcher, &fakeRecorder{}, testRetryPolicy(), utils.NewTestLogger())

	err := worker.Handle(context.Background(), deliveryJob())
	require.Error(t, err)
}

func TestErrorNoticeFinalizesPlaceholderAndRecords(t *testing.T) {
	messenger := &fakeMessenger{}
	recorder := &fakeRecorder{}
	worker := NewDeliveryWorker(messenger, &fakeFetcher{}, recorder, testRetryPolicy(), utils.NewTestLogger())

	job := &models.Job{
		ID:          "job-err",
		Kind:        models.JobKindErrorNotify,
		Correlation: models.Correlation{ChatID: 42, PlaceholderID: 101},
		URL:         "https://example.com/watch?v=abc",
		ErrorText:   "File too large!",
	}
	require.NoError(t, worker.Handle(context.Background(), job))

	require.Len(t, messenger.edits, 1)
	assert.Equal(t, 101, messenger.edits[0].messageID)
	assert.Equal(t, "😭 Sending mp3 from https://example.com/watch?v=abc failed\n(File too large!)", messenger.edits[0].text)

	require.Len(t, recorder.records, 1)
	assert.Equal(t, "File too large!", recorder.records[0].Reason)
	assert.Equal(t, 101, recorder.records[0].MessageID)
}

func TestErrorNoticeFallsBackToFreshMessage(t *testing.T) {
	messenger := &fakeMessenger{editTextErr: errors.New("message to edit not found")}
	recorder := &fakeRecorder{}
	worker := NewDeliveryWorker(messenger, &fakeFetcher{}, recorder, testRetryPolicy(), utils.NewTestLogger())

	job := &models.Job{
		ID:          "job-err",
		Kind:        models.JobKindErrorNotify,
		Correlation: models.Correlation{ChatID: 42, PlaceholderID: 101},
		URL:         "https://example.com/watch?v=abc",
		ErrorText:   "boom",
	}
	require.NoError(t, worker.Handle(context.Background(), job))

	require.Len(t, messenger.sends, 1)
	assert.Contains(t, messenger.sends[0].text, "boom")
	assert.Len(t, recorder.records, 1)
}

func TestDeliveryDropsUnknownKind(t *testing.T) {
	messenger := &fakeMessenger{}
	worker := NewDeliveryWorker(messenger, &fakeFetcher{}, &fakeRecorder{}, testRetryPolicy(), utils.NewTestLogger())

	job := &models.Job{ID: "job-x", Kind: models.JobKind("mystery")}
	require.NoError(t, worker.Handle(context.Background(), job))
	assert.Zero(t, messenger.attachCalls)
}
