package resilience

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// Retry calls fn through the breaker until it succeeds, attempts are
// exhausted or ctx ends. Attempts are paced by limiter. Rejections by an open
// breaker count as attempts.
func Retry(ctx context.Context, limiter *rate.Limiter, breaker *Breaker, attempts int, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if err := limiter.Wait(ctx); err != nil {
			if last != nil {
				return fmt.Errorf("%w (last error: %v)", err, last)
			}
			return err
		}
		err := breaker.Do(func() error { return fn(ctx) })
		if err == nil {
			return nil
		}
		var permanent *PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		last = err
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, last)
}

// PermanentError stops Retry immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
