package layer

import (
	"context"

	"github.com/xraph/conveyor/job"
)

// AddExtension returns a layer that inserts v into every execution
// context, where handlers read it back with job.Get[T]. Use it to hand
// shared resources such as clients or pools to handlers.
func AddExtension[T any](v T) Layer {
	return func(next Handler) Handler {
		return func(ctx context.Context, env *job.Envelope, jc *job.Context) (job.Outcome, error) {
			job.Insert(jc, v)
			return next(ctx, env, jc)
		}
	}
}
