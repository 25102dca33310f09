package worker

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/tracker"
)

type result struct {
	outcome job.Outcome
	err     error
}

// execute runs one claimed envelope and settles it. The execution context
// is detached from ctx so that shutdown does not abort the handler; only
// the execution timeout or Cancel does.
func (w *Worker) execute(ctx context.Context, env *job.Envelope) {
	w.stats.claimed.Add(1)
	logger := w.logger.With(
		slog.String("job_id", env.ID.String()),
		slog.String("job_name", env.Name),
		slog.Int("attempt", env.Attempts),
	)

	var (
		execCtx context.Context
		cancel  context.CancelFunc
	)
	if w.executionTimeout > 0 {
		execCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), w.executionTimeout)
	} else {
		execCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	w.setActive(cancel)
	defer func() {
		w.clearActive()
		cancel()
	}()

	w.extensions.EmitJobStarted(execCtx, env)
	tr := tracker.New(env.ID, env.Name, w.sink)
	jc := job.NewContext(env, tr)

	stopHeartbeat := w.startHeartbeat(execCtx, env, logger)
	start := time.Now()
	outcome, err := w.invoke(execCtx, env, jc, logger)
	elapsed := time.Since(start)
	stopHeartbeat()

	settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancelSettle()

	switch {
	case err != nil:
		w.stats.faults.Add(1)
		w.retry(settleCtx, env, tr, err, logger)
	case outcome == job.OutcomeRetry:
		w.retry(settleCtx, env, tr, nil, logger)
	case outcome == job.OutcomeKill:
		w.kill(settleCtx, env, tr, "killed by handler", logger)
	default:
		w.ack(settleCtx, env, tr, elapsed, logger)
	}
}

// invoke runs the pipeline in its own goroutine so that a handler which
// ignores its context cannot hold the worker past the deadline. Panics
// are recovered into faults.
func (w *Worker) invoke(ctx context.Context, env *job.Envelope, jc *job.Context, logger *slog.Logger) (job.Outcome, error) {
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				done <- result{outcome: job.OutcomeRetry, err: &conveyor.HandlerFault{
					JobID: env.ID.String(),
					Name:  env.Name,
					Panic: r,
				}}
			}
		}()
		outcome, err := w.pipeline(ctx, env, jc)
		done <- result{outcome: outcome, err: err}
	}()

	select {
	case r := <-done:
		return r.outcome, w.fault(ctx, env, r.err)
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.outcome, w.fault(ctx, env, r.err)
		default:
		}
		logger.Warn("job abandoned", slog.String("reason", ctx.Err().Error()))
		return job.OutcomeRetry, w.fault(ctx, env, ctx.Err())
	}
}

// fault normalizes a pipeline error into a *conveyor.HandlerFault.
func (w *Worker) fault(ctx context.Context, env *job.Envelope, err error) error {
	if err == nil {
		return nil
	}
	var hf *conveyor.HandlerFault
	if errors.As(err, &hf) {
		return hf
	}
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = &conveyor.ExecutionTimeout{JobID: env.ID.String(), Timeout: w.executionTimeout}
	}
	return &conveyor.HandlerFault{JobID: env.ID.String(), Name: env.Name, Err: err}
}

func (w *Worker) ack(ctx context.Context, env *job.Envelope, tr *tracker.Tracker, elapsed time.Duration, logger *slog.Logger) {
	if err := w.store.Ack(ctx, env.ID, w.id); err != nil {
		w.storeFailure(ctx, "ack", env, err, logger)
		return
	}
	w.stats.acked.Add(1)
	env.State = job.StateDone

	logger.Debug("job acked", slog.Duration("elapsed", elapsed))
	w.extensions.EmitJobCompleted(ctx, env, elapsed)
	tr.Completed()
}

func (w *Worker) retry(ctx context.Context, env *job.Envelope, tr *tracker.Tracker, fault error, logger *slog.Logger) {
	delay := w.backoffFor(env).Delay(env.Attempts)
	opts := job.RetryOpts{RunAt: time.Now().UTC().Add(delay)}
	if fault != nil {
		opts.Fault = fault.Error()
	}

	state, err := w.store.Retry(ctx, env.ID, w.id, opts)
	if err != nil {
		w.storeFailure(ctx, "retry", env, err, logger)
		return
	}
	env.State = state
	env.LastError = opts.Fault

	if state == job.StateKilled {
		w.stats.killed.Add(1)
		reason := "attempts exhausted"
		if fault != nil {
			reason = "attempts exhausted: " + fault.Error()
		}
		logger.Warn("job killed after exhausting attempts",
			slog.Int("max_attempts", env.MaxAttempts),
			slog.String("reason", reason),
		)
		w.extensions.EmitJobKilled(ctx, env, reason)
		tr.Failed(reason)
		return
	}

	w.stats.retried.Add(1)
	env.RunAt = opts.RunAt
	attrs := []any{slog.Duration("delay", delay), slog.String("state", string(state))}
	if fault != nil {
		attrs = append(attrs, slog.String("error", fault.Error()))
		tr.Failed(fault.Error())
	}
	logger.Info("job scheduled for retry", attrs...)
	w.extensions.EmitJobRetrying(ctx, env, opts.RunAt, fault)
}

func (w *Worker) kill(ctx context.Context, env *job.Envelope, tr *tracker.Tracker, reason string, logger *slog.Logger) {
	if err := w.store.Kill(ctx, env.ID, job.KillOpts{WorkerID: w.id, Reason: reason}); err != nil {
		w.storeFailure(ctx, "kill", env, err, logger)
		return
	}
	w.stats.killed.Add(1)
	env.State = job.StateKilled
	env.LastError = reason

	logger.Info("job killed", slog.String("reason", reason))
	w.extensions.EmitJobKilled(ctx, env, reason)
	tr.Failed(reason)
}

// storeFailure logs a failed terminal call. A stale transition means the
// envelope moved on without us, typically after a lock expiry and reclaim.
func (w *Worker) storeFailure(_ context.Context, op string, env *job.Envelope, err error, logger *slog.Logger) {
	if conveyor.IsStale(err) {
		logger.Warn("stale transition ignored", slog.String("op", op), slog.String("error", err.Error()))
		return
	}
	w.stats.storeErrors.Add(1)
	claimErr := &conveyor.ClaimError{Op: op, JobID: env.ID.String(), Err: err}
	logger.Error("settle failed", slog.String("op", op), slog.String("error", claimErr.Error()))
}

func (w *Worker) backoffFor(env *job.Envelope) backoff.Strategy {
	if entry, ok := w.registry.Get(env.Name); ok && entry.Backoff != nil {
		return entry.Backoff
	}
	return w.backoff
}

// startHeartbeat renews the lock on env every heartbeat interval until the
// returned stop function is called.
func (w *Worker) startHeartbeat(ctx context.Context, env *job.Envelope, logger *slog.Logger) (stop func()) {
	if w.heartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.store.Heartbeat(ctx, w.id, env.ID); err != nil {
					logger.Warn("heartbeat failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
