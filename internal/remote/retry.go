package remote

import (
	"context"
	"log/slog"
	"time"
)

// sleep waits for the given duration or until the context is cancelled.
// Swapped out in tests to count retry pauses without waiting.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry executes fn until it succeeds, tolerating up to maxRetries
// failures with delay between attempts. Tolerated failures are logged at
// warn level rather than propagated. Once the tolerated attempts are
// exhausted one final attempt is made outside the tolerant loop, and its
// error, if any, is returned as-is. This separates "expected transient
// failure, retry quietly" from "exhausted retries, surface loudly" without
// special-casing the last iteration inside the loop.
func Retry[T any](ctx context.Context, logger *slog.Logger, maxRetries int, delay time.Duration, fn func() (T, error)) (T, error) {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		logger.Warn("remote operation failed, will retry",
			"attempt", attempt,
			"max_retries", maxRetries,
			"delay", delay,
			"error", err)

		if err := sleep(ctx, delay); err != nil {
			var zero T
			return zero, err
		}
	}

	return fn()
}
