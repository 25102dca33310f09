// Package worker runs the claim, execute and settle loop for one
// concurrent slot.
//
// A Worker polls its store for the next claimable envelope, builds a fresh
// job.Context, runs the handler through its layer pipeline and settles the
// attempt with exactly one Ack, Retry or Kill. Per-job failures never stop
// the loop: faults take the retry path, stale transitions are logged and
// store errors are followed by a backoff.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/layer"
	"github.com/xraph/conveyor/tracker"
)

// settleTimeout bounds the terminal store call made after a handler
// returns, including during shutdown.
const settleTimeout = 10 * time.Second

// Worker executes jobs one at a time. Build one with NewBuilder.
type Worker struct {
	id         id.WorkerID
	store      job.Store
	registry   *job.Registry
	pipeline   layer.Handler
	backoff    backoff.Strategy
	extensions *ext.Registry
	sink       tracker.Sink
	logger     *slog.Logger
	names      []string

	pollInterval      time.Duration
	errorBackoff      time.Duration
	executionTimeout  time.Duration
	heartbeatInterval time.Duration

	running  atomic.Bool
	activeMu sync.Mutex
	cancel   context.CancelFunc

	stats counters
}

type counters struct {
	claimed     atomic.Int64
	acked       atomic.Int64
	retried     atomic.Int64
	killed      atomic.Int64
	faults      atomic.Int64
	storeErrors atomic.Int64
}

// Stats is a snapshot of a worker's counters.
type Stats struct {
	Claimed     int64 `json:"claimed"`
	Acked       int64 `json:"acked"`
	Retried     int64 `json:"retried"`
	Killed      int64 `json:"killed"`
	Faults      int64 `json:"faults"`
	StoreErrors int64 `json:"store_errors"`
}

// ID returns the worker identifier.
func (w *Worker) ID() id.WorkerID { return w.id }

// TrackerSink returns the sink bound to executions, or nil.
func (w *Worker) TrackerSink() tracker.Sink { return w.sink }

// SetTrackerSink binds sink to future executions. Call it before Run.
func (w *Worker) SetTrackerSink(sink tracker.Sink) { w.sink = sink }

// Stats returns the worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Claimed:     w.stats.claimed.Load(),
		Acked:       w.stats.acked.Load(),
		Retried:     w.stats.retried.Load(),
		Killed:      w.stats.killed.Load(),
		Faults:      w.stats.faults.Load(),
		StoreErrors: w.stats.storeErrors.Load(),
	}
}

// Run polls and executes jobs until ctx is done. Cancelling ctx stops new
// claims; an execution in progress runs to completion, to its timeout or
// until Cancel is called, and is still settled. Run returns nil on a
// graceful stop.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return conveyor.ErrWorkerRunning
	}
	defer w.running.Store(false)

	if len(w.jobNames()) == 0 {
		return fmt.Errorf("%w: worker has no job names", conveyor.ErrNoHandler)
	}

	w.logger.Info("worker started", slog.Duration("poll_interval", w.pollInterval))

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}

		claimed, err := w.ProcessNext(ctx)
		switch {
		case err != nil:
			w.logger.Error("claim failed", slog.String("error", err.Error()))
			w.sleep(ctx, w.errorBackoff)
		case !claimed:
			w.sleep(ctx, w.pollInterval)
		}
	}
}

// ProcessNext claims and executes at most one job. It reports whether a
// job was claimed. The returned error is a *conveyor.ClaimError from the
// fetch; failures after a claim are handled internally.
//
// A worker with no job names claims nothing: stores read an empty name
// filter as every name.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	names := w.jobNames()
	if len(names) == 0 {
		return false, nil
	}
	env, err := w.store.FetchNext(ctx, w.id, names...)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		w.stats.storeErrors.Add(1)
		return false, &conveyor.ClaimError{Op: "fetch_next", Err: err}
	}
	if env == nil {
		return false, nil
	}

	w.execute(ctx, env)
	return true, nil
}

// Cancel cancels the execution in progress, if any. The cancelled attempt
// is settled as a fault.
func (w *Worker) Cancel() {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	if w.cancel != nil {
		w.logger.Warn("cancelling active job")
		w.cancel()
	}
}

// JobNames returns the names the worker claims: those set with
// WithJobNames, or else every name in its registry.
func (w *Worker) JobNames() []string { return w.jobNames() }

func (w *Worker) jobNames() []string {
	if w.names != nil {
		return w.names
	}
	return w.registry.Names()
}

func (w *Worker) setActive(cancel context.CancelFunc) {
	w.activeMu.Lock()
	w.cancel = cancel
	w.activeMu.Unlock()
}

func (w *Worker) clearActive() {
	w.activeMu.Lock()
	w.cancel = nil
	w.activeMu.Unlock()
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
