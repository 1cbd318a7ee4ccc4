package utils

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is a bounded retry loop with an explicit attempt ceiling.
// By default only rate-limit errors are retried: the wait is the
// platform-provided duration when present, otherwise a random value
// between MinWait and MaxWait.
type RetryPolicy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration

	// Retryable overrides the default rate-limit-only classification.
	// It reports whether err warrants another attempt and an optional
	// wait; a zero wait falls back to the jitter range.
	Retryable func(err error) (time.Duration, bool)

	// Sleep is swappable for tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the delivery backoff rules: up to 5
// attempts, 3-10 second jitter when the platform gives no wait hint.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinWait:     3 * time.Second,
		MaxWait:     10 * time.Second,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// exhausts the attempt ceiling. The final attempt's error is returned
// as-is; it reaches users and must stay the root cause.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = RetryAfterOf
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		wait, retry := retryable(lastErr)
		if !retry {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		if wait <= 0 {
			wait = p.jitter()
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return lastErr
}

func (p RetryPolicy) jitter() time.Duration {
	if p.MaxWait <= p.MinWait {
		return p.MinWait
	}
	return p.MinWait + time.Duration(rand.Int63n(int64(p.MaxWait-p.MinWait)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
