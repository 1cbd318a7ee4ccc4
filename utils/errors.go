package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// RateLimitError marks a chat platform flood-control response.
// RetryAfter is zero when the platform did not say how long to wait.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// RetryAfterOf reports whether err is a rate-limit signal and the wait
// the platform asked for, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsTimeout reports whether err is a client-side request timeout. The
// platform commonly completes the write anyway, so callers treat these
// as probable success rather than retrying.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SanitizeError flattens an error into user-presentable text.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
