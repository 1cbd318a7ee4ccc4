package utils

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBreakerOpen marks a call rejected because the breaker is cooling
// down after repeated failures.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breaker trips after a run of consecutive failures and rejects calls
// until the cooldown passes. It guards the extractor subprocess: a
// broken binary or blocked network fails fast instead of burning
// through the whole queue. After the cooldown one probe call is let
// through; its outcome closes or re-opens the breaker.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time
	now       func() time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Do runs op unless the breaker is open, recording the outcome.
func (b *Breaker) Do(op func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return nil
	}
	remaining := b.cooldown - b.now().Sub(b.openedAt)
	if remaining > 0 {
		return fmt.Errorf("%w, retry in %s", ErrBreakerOpen, remaining.Round(time.Second))
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}
