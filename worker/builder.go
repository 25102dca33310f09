package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/layer"
)

// Builder assembles a Worker. Layers are composed once, in declared order,
// when Build is called.
type Builder struct {
	store    job.Store
	registry *job.Registry
	layers   []layer.Layer
	opts     []Option
}

// NewBuilder starts a worker over store that runs handlers from registry.
func NewBuilder(store job.Store, registry *job.Registry) *Builder {
	return &Builder{store: store, registry: registry}
}

// Layer appends l. The first layer added is the outermost.
func (b *Builder) Layer(l layer.Layer) *Builder {
	b.layers = append(b.layers, l)
	return b
}

// With appends options.
func (b *Builder) With(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build returns the configured Worker.
func (b *Builder) Build() *Worker {
	cfg := conveyor.DefaultConfig()
	w := &Worker{
		id:                id.NewWorkerID(),
		store:             b.store,
		registry:          b.registry,
		backoff:           backoff.DefaultStrategy(),
		logger:            slog.Default(),
		pollInterval:      cfg.PollInterval,
		errorBackoff:      cfg.ErrorBackoff,
		executionTimeout:  cfg.ExecutionTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
	}
	for _, opt := range b.opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("worker_id", w.id.String()))
	w.pipeline = layer.Apply(w.dispatch, b.layers...)
	return w
}

// dispatch is the innermost stage: it runs the registered handler.
func (w *Worker) dispatch(ctx context.Context, env *job.Envelope, jc *job.Context) (job.Outcome, error) {
	entry, ok := w.registry.Get(env.Name)
	if !ok {
		return job.OutcomeRetry, fmt.Errorf("%w: %q", conveyor.ErrNoHandler, env.Name)
	}
	return entry.Handler(ctx, jc, env.Payload)
}
