// Package retry runs operations under a bounded, fixed-interval retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the final error once every retry has failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy retries a failed operation up to MaxRetries times, waiting Interval
// before each retry. It is immutable after construction.
type Policy struct {
	Interval   time.Duration
	MaxRetries int
}

// DefaultPolicy returns the watcher reconnect policy: 3 retries, 1 second apart.
func DefaultPolicy() Policy {
	return Policy{Interval: time.Second, MaxRetries: 3}
}

// NewPolicy builds a policy from raw config fields; negative values fall back to defaults.
func NewPolicy(interval time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if interval >= 0 {
		p.Interval = interval
	}
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	return p
}

// Delay returns the wait before the given retry (1-based). The first attempt waits nothing.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	return p.Interval
}

// Do calls fn until it succeeds, the retries are used up, or ctx ends. The
// returned error wraps ErrExhausted and the last failure when retries run out.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	var last error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = fn(attempt); last == nil {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxRetries+1, last)
}
