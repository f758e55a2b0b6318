package resilience

import (
	"context"
	"time"
)

// Retry runs fn and, on failure, retries it exactly once after a fixed
// backoff. The second error wins. Context cancellation during the backoff
// aborts with the context error.
func Retry[T any](ctx context.Context, backoff time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if err == nil {
		return out, nil
	}

	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	return fn(ctx)
}
