package swscore

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff, attempting it at most attempts times.
// Only errors marked with retry.RetryableError are retried; ShouldRetry helps decide that.
// Nothing in this module retries on its own: callers opt in, e.g. via a pool Config's ConnectAttempts.
func Retry(ctx context.Context, attempts int, task func(ctx context.Context) error) error {
	retries := uint64(0)
	if attempts > 1 {
		retries = uint64(attempts - 1)
	}
	b := retry.WithMaxRetries(retries, retry.NewFibonacci(500*time.Millisecond))
	if err := retry.Do(ctx, b, task); err != nil {
		if retries > 0 {
			log.Warn(err.Error() + ", gave up")
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether the error is retryable (non-nil and not a known permanent failure).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	// Context cancellations/timeouts are permanent from the caller's POV.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return CodeOf(err) != ConfigurationError
}
