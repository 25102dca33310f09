package job

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conveyor/id"
)

// Enqueue encodes payload and stores it as a job runnable now.
func Enqueue[T any](ctx context.Context, s Store, def *Definition[T], payload T) (id.JobID, error) {
	env, err := envelopeFor(def, payload)
	if err != nil {
		return id.Nil, err
	}
	return s.Enqueue(ctx, env)
}

// Schedule encodes payload and stores it as a job runnable at runAt.
func Schedule[T any](ctx context.Context, s Store, def *Definition[T], payload T, runAt time.Time) (id.JobID, error) {
	env, err := envelopeFor(def, payload)
	if err != nil {
		return id.Nil, err
	}
	return s.Schedule(ctx, env, runAt)
}

func envelopeFor[T any](def *Definition[T], payload T) (*Envelope, error) {
	data, err := def.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("job: encode %q payload: %w", def.Name, err)
	}
	return NewEnvelope(def.Name, data, def.Opts.MaxAttempts), nil
}
