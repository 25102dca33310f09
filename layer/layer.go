// Package layer provides composable wrappers around job execution.
//
// A Layer turns one Handler into another, adding behavior before and after
// the inner call. Layers are composed once when a worker is built; the
// first declared layer is the outermost, so it observes the call first and
// the result last.
package layer

import (
	"context"

	"github.com/xraph/conveyor/job"
)

// Handler is the execution signature every stage of the pipeline shares.
type Handler func(ctx context.Context, env *job.Envelope, jc *job.Context) (job.Outcome, error)

// Layer wraps a Handler with cross-cutting behavior. A Layer must not
// mutate the envelope.
type Layer func(next Handler) Handler

// Chain composes layers into one. Chain(a, b, c) executes as:
//
//	a → b → c → handler
func Chain(layers ...Layer) Layer {
	return func(next Handler) Handler {
		h := next
		for i := len(layers) - 1; i >= 0; i-- {
			if layers[i] == nil {
				continue
			}
			h = layers[i](h)
		}
		return h
	}
}

// Apply wraps h in layers, first layer outermost.
func Apply(h Handler, layers ...Layer) Handler {
	return Chain(layers...)(h)
}
