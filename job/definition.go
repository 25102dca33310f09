package job

import "context"

// Handler processes one decoded payload and chooses the attempt's outcome.
// A non-nil error is a fault: the envelope is retried until its attempts
// run out.
type Handler[T any] func(ctx context.Context, jc *Context, payload T) (Outcome, error)

// Func adapts a plain function into a Handler that acks on success.
func Func[T any](fn func(ctx context.Context, payload T) error) Handler[T] {
	return func(ctx context.Context, jc *Context, payload T) (Outcome, error) {
		if err := fn(ctx, payload); err != nil {
			return OutcomeRetry, err
		}
		return jc.Ack(), nil
	}
}

// Definition is a typed job definition.
type Definition[T any] struct {
	// Name selects the handler for stored envelopes. It must stay stable
	// while envelopes of the old payload shape may still be queued.
	Name string

	// Handler processes the payload.
	Handler Handler[T]

	// Opts configures attempts, codec and backoff.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler Handler[T], opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	if def.Opts.Codec == nil {
		def.Opts.Codec = JSON
	}
	return def
}

// Encode serializes payload with the definition's codec.
func (d *Definition[T]) Encode(payload T) ([]byte, error) {
	return d.Opts.Codec.Marshal(payload)
}

// Decode deserializes data with the definition's codec.
func (d *Definition[T]) Decode(data []byte) (T, error) {
	var payload T
	if len(data) == 0 {
		return payload, nil
	}
	err := d.Opts.Codec.Unmarshal(data, &payload)
	return payload, err
}
