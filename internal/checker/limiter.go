package checker

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DispatchLimiter enforces a minimum spacing between request dispatches.
// A zero interval disables spacing.
type DispatchLimiter struct {
	limiter *rate.Limiter
}

// NewDispatchLimiter creates a limiter allowing one dispatch per interval.
func NewDispatchLimiter(interval time.Duration) *DispatchLimiter {
	if interval <= 0 {
		return &DispatchLimiter{}
	}
	return &DispatchLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next dispatch is allowed or ctx is done.
func (l *DispatchLimiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}
