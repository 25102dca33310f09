package layer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/conveyor/job"
)

// RateLimiter admits at most permits calls per window. One limiter is
// shared by every worker whose pipeline includes its Layer.
type RateLimiter struct {
	limiter *rate.Limiter
	permits int
	per     time.Duration
}

// NewRateLimiter creates a limiter for permits calls per duration. The
// bucket refills one permit every per/permits with a burst of one, so no
// window of length per admits more than permits calls. A non-positive per
// is treated as one nanosecond.
func NewRateLimiter(permits int, per time.Duration) *RateLimiter {
	if permits < 1 {
		permits = 1
	}
	if per <= 0 {
		per = time.Nanosecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(permits)/per.Seconds()), 1),
		permits: permits,
		per:     per,
	}
}

// Limit returns the refill rate in permits per second.
func (r *RateLimiter) Limit() rate.Limit { return r.limiter.Limit() }

// Wait blocks until a permit is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("layer: rate limit %d/%s: %w", r.permits, r.per, err)
	}
	return nil
}

// Layer returns the layer that acquires a permit before each call.
func (r *RateLimiter) Layer() Layer {
	return func(next Handler) Handler {
		return func(ctx context.Context, env *job.Envelope, jc *job.Context) (job.Outcome, error) {
			if err := r.Wait(ctx); err != nil {
				return job.OutcomeRetry, err
			}
			return next(ctx, env, jc)
		}
	}
}

// RateLimit returns a layer backed by a new RateLimiter. Reuse the returned
// value across workers to share the budget; calling RateLimit per worker
// gives each worker its own budget.
func RateLimit(permits int, per time.Duration) Layer {
	return NewRateLimiter(permits, per).Layer()
}
