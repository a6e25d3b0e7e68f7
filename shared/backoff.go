package shared

import (
	"context"
	"time"
)

const (
	// maxBackoffDelay caps the delay between retry attempts.
	maxBackoffDelay = time.Second * 30
)

// Backoff retries the provided operation with bounded exponential backoff,
// doubling the base delay after each failed attempt. The last error is
// returned once attempts are exhausted or the context is cancelled.
func Backoff(ctx context.Context, attempts int, baseDelay time.Duration, op func(ctx context.Context) error) error {
	var err error

	delay := baseDelay
	for i := 0; i < attempts; i++ {
		err = op(ctx)
		if err == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxBackoffDelay {
			delay = maxBackoffDelay
		}
	}

	return err
}
