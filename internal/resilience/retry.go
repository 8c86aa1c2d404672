package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry runs fn up to attempts times, sleeping delay between attempts and
// doubling it each time. It stops early when ctx is done.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			slog.Debug("Retrying request", "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted after %d attempts: %w", i, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		err = fn()
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts, last error: %w", attempts, err)
}
