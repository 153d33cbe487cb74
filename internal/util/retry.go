package util

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryError is returned by Retry once every attempt has failed. Err is the
// error from the final attempt.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retry calls fn up to maxAttempts times, sleeping a fixed delay between
// attempts. It returns nil on the first success, ctx.Err() if the context
// is cancelled, or a *RetryError wrapping the last failure. onRetry, when
// non-nil, is invoked before each sleep.
func Retry(ctx context.Context, maxAttempts int, delay time.Duration, fn func(attempt int) error, onRetry func(attempt int, err error)) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempt := 0
	op := func() error {
		attempt++
		return fn(attempt)
	}
	var notify backoff.Notify
	if onRetry != nil {
		notify = func(err error, _ time.Duration) { onRetry(attempt, err) }
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, bo, notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &RetryError{Attempts: attempt, Err: err}
}
