package worker

import (
	"log/slog"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/tracker"
)

// Option configures a Worker.
type Option func(*Worker)

// WithID sets the worker identifier recorded as claim holder.
func WithID(workerID id.WorkerID) Option {
	return func(w *Worker) { w.id = workerID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithConfig copies the polling, timeout and heartbeat settings from cfg.
func WithConfig(cfg conveyor.Config) Option {
	return func(w *Worker) {
		w.pollInterval = cfg.PollInterval
		w.errorBackoff = cfg.ErrorBackoff
		w.executionTimeout = cfg.ExecutionTimeout
		w.heartbeatInterval = cfg.HeartbeatInterval
	}
}

// WithPollInterval sets how long the worker sleeps when nothing is claimable.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithErrorBackoff sets how long the worker sleeps after a failed claim.
func WithErrorBackoff(d time.Duration) Option {
	return func(w *Worker) { w.errorBackoff = d }
}

// WithExecutionTimeout bounds each handler invocation. Zero disables it.
func WithExecutionTimeout(d time.Duration) Option {
	return func(w *Worker) { w.executionTimeout = d }
}

// WithHeartbeatInterval sets how often a running job's lock is renewed.
// Zero disables heartbeats; keep the execution timeout below the store's
// lock timeout then, or a long handler is reclaimed while still running.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(w *Worker) { w.heartbeatInterval = d }
}

// WithBackoff sets the retry delay strategy for jobs that do not override it.
func WithBackoff(s backoff.Strategy) Option {
	return func(w *Worker) { w.backoff = s }
}

// WithJobNames restricts the worker to the given job names. By default a
// worker claims every name in its registry.
func WithJobNames(names ...string) Option {
	return func(w *Worker) { w.names = names }
}

// WithTrackerSink binds a tracker to every execution.
func WithTrackerSink(sink tracker.Sink) Option {
	return func(w *Worker) { w.sink = sink }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(w *Worker) { w.extensions = r }
}
