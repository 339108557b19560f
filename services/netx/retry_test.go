package netx

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func always(error) bool { return false }
func retryAll(error) bool { return true }

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, retryAll, func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, retryAll, func() error {
		calls++
		return errBoom
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped errBoom, got %v", err)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, always, func() error {
		calls++
		return errBoom
	})
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d calls", calls)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	const wait = 60 * time.Millisecond
	calls := 0
	start := time.Now()
	err := Do(context.Background(), RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, Multiplier: 2}, retryAll, func() error {
		calls++
		if calls == 1 {
			return &RetryAfterError{After: wait, Err: errBoom}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < wait {
		t.Fatalf("waited %s, Retry-After demanded at least %s", elapsed, wait)
	}
}

func TestDoObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, RetryPolicy{Attempts: 5, BaseDelay: time.Hour, Multiplier: 2}, retryAll, func() error {
		return errBoom
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
