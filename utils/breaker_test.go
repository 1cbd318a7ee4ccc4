package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	calls := 0
	err := b.Do(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Zero(t, calls)
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	boom := errors.New("boom")

	require.Error(t, b.Do(func() error { return boom }))
	require.Error(t, b.Do(func() error { return boom }))
	require.NoError(t, b.Do(func() error { return nil }))
	require.Error(t, b.Do(func() error { return boom }))
	require.Error(t, b.Do(func() error { return boom }))

	// Still two in a row, below the threshold.
	assert.NoError(t, b.Do(func() error { return nil }))
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	boom := errors.New("boom")
	require.Error(t, b.Do(func() error { return boom }))
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrBreakerOpen)

	// Cooldown elapsed: one probe goes through and closes the breaker.
	now = now.Add(2 * time.Minute)
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.NoError(t, b.Do(func() error { return nil }))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	boom := errors.New("boom")
	require.Error(t, b.Do(func() error { return boom }))

	now = now.Add(2 * time.Minute)
	require.ErrorIs(t, b.Do(func() error { return boom }), boom)

	// The failed probe restarted the cooldown.
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrBreakerOpen)
}
