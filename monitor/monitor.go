// Package monitor supervises a set of workers as one unit. It starts them
// together, propagates shutdown from signals, timers or callers, and bounds
// how long in-flight work may take to drain.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/tracker"
	"github.com/xraph/conveyor/worker"
)

// recancelInterval is how often workers are cancelled again after the
// shutdown timeout, catching executions that started during the first pass.
const recancelInterval = 100 * time.Millisecond

// Monitor runs registered workers until shutdown.
type Monitor struct {
	workers []*worker.Worker

	logger          *slog.Logger
	signals         []os.Signal
	runFor          time.Duration
	shutdownTimeout time.Duration
	sink            tracker.Sink
	extensions      *ext.Registry

	running  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		logger:          slog.Default(),
		shutdownTimeout: conveyor.DefaultConfig().ShutdownTimeout,
		stopped:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds w.
func (m *Monitor) Register(w *worker.Worker) *Monitor {
	m.workers = append(m.workers, w)
	return m
}

// RegisterWithCount adds n workers built by factory, which receives the
// index of each worker in the group.
func (m *Monitor) RegisterWithCount(n int, factory func(index int) *worker.Worker) *Monitor {
	for i := 0; i < n; i++ {
		m.workers = append(m.workers, factory(i))
	}
	return m
}

// Workers returns the registered workers.
func (m *Monitor) Workers() []*worker.Worker { return m.workers }

// Shutdown stops the monitor. It returns immediately; Run returns once
// workers have drained. The request is latched: a Shutdown made before Run
// starts stops that Run as soon as its workers are up, and a shut down
// Monitor is not restarted by a later Run.
func (m *Monitor) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

// Run starts every worker and blocks until all have stopped. It returns
// the first worker error, or nil on a graceful stop.
func (m *Monitor) Run(ctx context.Context) error {
	if len(m.workers) == 0 {
		return conveyor.ErrNoWorkers
	}
	for i, w := range m.workers {
		if len(w.JobNames()) == 0 {
			return fmt.Errorf("%w: worker %d has no job names", conveyor.ErrNoHandler, i)
		}
	}
	if !m.running.CompareAndSwap(false, true) {
		return conveyor.ErrMonitorRunning
	}
	defer m.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if len(m.signals) > 0 {
		var stopSignals context.CancelFunc
		runCtx, stopSignals = signal.NotifyContext(runCtx, m.signals...)
		defer stopSignals()
	}
	if m.runFor > 0 {
		var stopTimer context.CancelFunc
		runCtx, stopTimer = context.WithTimeout(runCtx, m.runFor)
		defer stopTimer()
	}

	go func() {
		select {
		case <-m.stopped:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for _, w := range m.workers {
		if m.sink != nil && w.TrackerSink() == nil {
			w.SetTrackerSink(m.sink)
		}
	}

	m.logger.Info("monitor started", slog.Int("workers", len(m.workers)))

	var g errgroup.Group
	for _, w := range m.workers {
		g.Go(func() error { return w.Run(runCtx) })
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-runCtx.Done():
		m.logger.Info("monitor shutting down", slog.Duration("shutdown_timeout", m.shutdownTimeout))
		err = m.drain(done)
	}

	m.extensions.EmitShutdown(context.WithoutCancel(ctx))
	m.logger.Info("monitor stopped")
	return err
}

// drain waits for workers to finish in-flight executions, cancelling them
// once the shutdown timeout passes.
func (m *Monitor) drain(done <-chan error) error {
	timer := time.NewTimer(m.shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	}

	m.logger.Warn("shutdown timeout reached, cancelling active jobs")
	ticker := time.NewTicker(recancelInterval)
	defer ticker.Stop()
	for {
		for _, w := range m.workers {
			w.Cancel()
		}
		select {
		case err := <-done:
			return err
		case <-ticker.C:
		}
	}
}
