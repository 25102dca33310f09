package monitor

import (
	"log/slog"
	"os"
	"time"

	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/tracker"
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithSignals stops the monitor when the process receives any of sigs.
func WithSignals(sigs ...os.Signal) Option {
	return func(m *Monitor) { m.signals = sigs }
}

// WithRunFor stops the monitor after d.
func WithRunFor(d time.Duration) Option {
	return func(m *Monitor) { m.runFor = d }
}

// WithShutdownTimeout bounds how long in-flight executions may run after
// shutdown begins. When it passes, every worker's active job is cancelled.
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.shutdownTimeout = d }
}

// WithReportSink binds sink to every registered worker that has no sink.
func WithReportSink(sink tracker.Sink) Option {
	return func(m *Monitor) { m.sink = sink }
}

// WithExtensions sets the registry notified on shutdown.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Monitor) { m.extensions = r }
}
