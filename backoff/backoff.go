// Package backoff provides retry delay strategies. Every strategy is
// stateless, safe for concurrent use and monotonically non-decreasing in
// the attempt number, so a job never retries sooner after more failures.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// Delay returns how long to wait after attempt n (1-indexed) failed.
	Delay(attempt int) time.Duration
}

// Func adapts a function to a Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the delay linearly: min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy. A zero max means no cap.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	return capped(float64(l.Initial)*float64(normalize(attempt)), l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt: min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy. A zero max means no cap.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(float64(e.Initial)*math.Pow(2, float64(normalize(attempt)-1)), e.Max)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the worker default: exponential from 1s, capped
// at 10m.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 10*time.Minute)
}

func normalize(attempt int) int {
	if attempt < 1 {
		return 1
	}
	return attempt
}

// capped converts d to a Duration, clamping at limit (or at the largest
// Duration when limit is zero) so large attempts cannot overflow.
func capped(d float64, limit time.Duration) time.Duration {
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	if d >= float64(limit) {
		return limit
	}
	return time.Duration(d)
}
