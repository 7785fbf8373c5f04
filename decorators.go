package swscore

import (
	"context"
	"time"
)

// CloseTimeout bounds every Close call on pools and sessions.
const CloseTimeout = 10 * time.Second

// Shield runs op so that cancellation of ctx cannot abort it midway.
//
// Deadlines and values of ctx are dropped for op, so op should carry its own timeout.
// If ctx got cancelled while op was running and op succeeded, the result is returned
// together with ctx's error: the caller still observes the cancellation, just after the
// mutation has completed.
func Shield[T any](ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	r, err := op(context.WithoutCancel(ctx))
	if err != nil {
		return r, err
	}
	if ctx.Err() != nil {
		return r, context.Cause(ctx)
	}
	return r, nil
}

// BoundedWait waits at most timeout for op to finish.
//
// On expiry ErrTimeout is returned immediately; op keeps running in its goroutine and its
// outcome is discarded. op receives a context that is cancelled once the wait ends, so
// well-behaved operations stop soon after.
func BoundedWait[T any](ctx context.Context, name string, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		r   T
		err error
	}
	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan result, 1)
	go func() {
		r, err := op(opCtx)
		done <- result{r, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case res := <-done:
		cancel()
		return res.r, res.err
	case <-timer.C:
		cancel()
		return zero, ErrTimeout{Name: name, MaxTime: timeout}
	case <-ctx.Done():
		cancel()
		return zero, ErrTimeout{Name: name, MaxTime: timeout, Cause: ctx.Err()}
	}
}

// WithTimeout derives a context bounded by timeout. A non-positive timeout leaves ctx unbounded.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
