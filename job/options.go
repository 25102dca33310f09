package job

import (
	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
)

// Options configures a job definition.
type Options struct {
	// MaxAttempts is the attempt ceiling stamped on new envelopes.
	MaxAttempts int

	// Codec encodes the payload. Defaults to JSON.
	Codec Codec

	// Backoff overrides the worker's retry delay strategy for this job.
	Backoff backoff.Strategy
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: conveyor.DefaultMaxAttempts,
		Codec:       JSON,
	}
}

// Option is a functional option for a job definition.
type Option func(*Options)

// WithMaxAttempts sets the attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithCodec sets the payload codec.
func WithCodec(c Codec) Option {
	return func(o *Options) {
		o.Codec = c
	}
}

// WithBackoff sets a per-job retry delay strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *Options) {
		o.Backoff = s
	}
}
