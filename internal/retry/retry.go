// Package retry implements the exponential backoff policy shared by the
// upstream fetcher and the webhook sender.
package retry

import (
	"context"
	"errors"
	"time"
)

// permanentError wraps an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as non-retriable. Do stops immediately and
// returns the underlying error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Delay returns the backoff before retry attempt n (1-based):
// baseDelay * 2^(n-1). A zero baseDelay yields zero delays at every
// attempt, with no implicit floor.
func Delay(baseDelay time.Duration, attempt int) time.Duration {
	if baseDelay <= 0 || attempt < 1 {
		return 0
	}
	d := baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Do calls fn, retrying up to maxRetries times with exponential
// backoff. The waits between attempts are baseDelay, 2*baseDelay,
// 4*baseDelay and so on, deliberately without jitter so the schedule
// stays predictable against the upstream's own rate accounting.
//
// onRetry, if non-nil, is invoked before each backoff wait with the
// 1-based attempt number that failed, the wait about to be taken, and
// the error. Errors wrapped with Permanent stop the loop at once.
func Do(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error, onRetry func(attempt int, wait time.Duration, err error)) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var permErr *permanentError
		if errors.As(err, &permErr) {
			return permErr.Unwrap()
		}

		// No wait after the final attempt
		if attempt == maxRetries+1 {
			break
		}

		wait := Delay(baseDelay, attempt)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}

		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}

	return lastErr
}

// Sleep waits for the specified duration, respecting context
// cancellation. A non-positive duration only checks the context.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
