package services

import (
	"context"
	"errors"
	"time"

	"L402Paywall/internal/store"
)

// Retry bounds the backoff applied to idempotent store primitives
// (set-if-absent, conditional transitions). Non-idempotent increments are
// never retried.
type Retry struct {
	Attempts int
	Base     time.Duration
}

var DefaultRetry = Retry{Attempts: 3, Base: 50 * time.Millisecond}

func retryable(err error) bool {
	return !errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, store.ErrDuplicate) &&
		!errors.Is(err, store.ErrInsufficientCredits) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func withRetry[T any](ctx context.Context, r Retry, fn func(context.Context) (T, error)) (T, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := r.Base
	var zero T
	var err error
	for i := 0; i < attempts; i++ {
		var v T
		v, err = fn(ctx)
		if err == nil || !retryable(err) {
			return v, err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return zero, err
}
