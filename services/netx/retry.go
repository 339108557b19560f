// Package netx holds the bounded-retry combinator shared by the archive and
// REST HTTP call sites.
package netx

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds retries with geometric backoff.
type RetryPolicy struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
}

// DefaultPolicy matches the documented budget: 3 attempts, 1s base, x2.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// RetryAfterError wraps a rate-limit response that named its own wait. The
// server-provided delay is honored verbatim before the next attempt.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// Do runs fn up to p.Attempts times. retryable decides whether an error is
// worth another attempt; a RetryAfterError overrides the backoff delay.
// Cancellation is observed during every sleep.
func Do(ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= p.Attempts || !retryable(err) {
			return fmt.Errorf("attempt %d/%d: %w", attempt, p.Attempts, err)
		}

		wait := delay
		var ra *RetryAfterError
		if errors.As(err, &ra) && ra.After > wait {
			wait = ra.After
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
}
