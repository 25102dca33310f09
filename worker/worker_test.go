package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/layer"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/tracker"
	"github.com/xraph/conveyor/worker"
)

type noop struct{}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func setup(t *testing.T, name string, h job.Handler[noop], maxAttempts int, opts ...worker.Option) (*memory.Store, *worker.Worker, id.JobID) {
	t.Helper()
	s := memory.New()
	r := job.NewRegistry()
	def := job.NewDefinition(name, h, job.WithMaxAttempts(maxAttempts))
	job.Register(r, def)

	jobID, err := job.Enqueue(context.Background(), s, def, noop{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	base := []worker.Option{
		worker.WithLogger(quiet),
		worker.WithBackoff(backoff.NewConstant(0)),
		worker.WithPollInterval(5 * time.Millisecond),
	}
	w := worker.NewBuilder(s, r).With(append(base, opts...)...).Build()
	return s, w, jobID
}

func process(t *testing.T, w *worker.Worker) {
	t.Helper()
	claimed, err := w.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if !claimed {
		t.Fatal("expected a claim")
	}
}

func get(t *testing.T, s *memory.Store, jobID id.JobID) *job.Envelope {
	t.Helper()
	env, err := s.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return env
}

func TestWorker_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		handler   job.Handler[noop]
		wantState job.State
		wantError string
	}{
		{
			name:      "ack",
			handler:   func(_ context.Context, jc *job.Context, _ noop) (job.Outcome, error) { return jc.Ack(), nil },
			wantState: job.StateDone,
		},
		{
			name:      "retry",
			handler:   func(_ context.Context, jc *job.Context, _ noop) (job.Outcome, error) { return jc.Retry(), nil },
			wantState: job.StatePending,
		},
		{
			name:      "kill",
			handler:   func(_ context.Context, jc *job.Context, _ noop) (job.Outcome, error) { return jc.Kill(), nil },
			wantState: job.StateKilled,
			wantError: "killed by handler",
		},
		{
			name:      "fault",
			handler:   job.Func(func(context.Context, noop) error { return errors.New("smtp down") }),
			wantState: job.StateFailed,
			wantError: "smtp down",
		},
		{
			name: "panic",
			handler: func(context.Context, *job.Context, noop) (job.Outcome, error) {
				panic("nil map")
			},
			wantState: job.StateFailed,
			wantError: "panicked: nil map",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, w, jobID := setup(t, tt.name, tt.handler, 3)
			process(t, w)

			got := get(t, s, jobID)
			if got.State != tt.wantState {
				t.Fatalf("state = %s, want %s", got.State, tt.wantState)
			}
			if got.Attempts != 1 {
				t.Fatalf("attempts = %d, want 1", got.Attempts)
			}
			if !strings.Contains(got.LastError, tt.wantError) {
				t.Fatalf("last_error = %q, want %q", got.LastError, tt.wantError)
			}
		})
	}
}

func TestWorker_FaultsExhaustAttempts(t *testing.T) {
	s, w, jobID := setup(t, "flaky", job.Func(func(context.Context, noop) error {
		return errors.New("boom")
	}), 2)

	process(t, w)
	process(t, w)

	got := get(t, s, jobID)
	if got.State != job.StateKilled || got.Attempts != 2 {
		t.Fatalf("state = %s attempts = %d, want killed after 2", got.State, got.Attempts)
	}
	if claimed, _ := w.ProcessNext(context.Background()); claimed {
		t.Fatal("killed envelope claimed again")
	}

	stats := w.Stats()
	if stats.Claimed != 2 || stats.Faults != 2 || stats.Retried != 1 || stats.Killed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWorker_ExecutionTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s, w, jobID := setup(t, "slow", func(context.Context, *job.Context, noop) (job.Outcome, error) {
		<-release
		return job.OutcomeAck, nil
	}, 3, worker.WithExecutionTimeout(20*time.Millisecond))

	process(t, w)

	got := get(t, s, jobID)
	if got.State != job.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if !strings.Contains(got.LastError, "exceeded execution timeout") {
		t.Fatalf("last_error = %q", got.LastError)
	}
}

func TestWorker_UnknownHandlerFaults(t *testing.T) {
	s := memory.New()
	registry := job.NewRegistry()
	jobID, err := s.Enqueue(context.Background(), job.NewEnvelope("orphan", nil, 3))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := worker.NewBuilder(s, registry).With(
		worker.WithLogger(quiet),
		worker.WithJobNames("orphan"),
	).Build()
	process(t, w)

	got := get(t, s, jobID)
	if got.State != job.StateFailed || !strings.Contains(got.LastError, conveyor.ErrNoHandler.Error()) {
		t.Fatalf("state = %s last_error = %q", got.State, got.LastError)
	}
}

func TestWorker_UsesEntryBackoff(t *testing.T) {
	s := memory.New()
	r := job.NewRegistry()
	def := job.NewDefinition("later", job.Func(func(context.Context, noop) error {
		return errors.New("boom")
	}), job.WithBackoff(backoff.NewConstant(time.Hour)))
	job.Register(r, def)
	jobID, err := job.Enqueue(context.Background(), s, def, noop{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := worker.NewBuilder(s, r).With(worker.WithLogger(quiet)).Build()
	process(t, w)

	got := get(t, s, jobID)
	if until := time.Until(got.RunAt); until < 59*time.Minute {
		t.Fatalf("run_at in %v, want about an hour", until)
	}
}

func TestWorker_StaleSettleIsNotStoreError(t *testing.T) {
	var s *memory.Store
	s, w, jobID := setup(t, "raced", func(ctx context.Context, jc *job.Context, _ noop) (job.Outcome, error) {
		if err := s.Kill(ctx, jc.JobID(), job.KillOpts{Reason: "operator"}); err != nil {
			return job.OutcomeRetry, err
		}
		return jc.Ack(), nil
	}, 3)

	process(t, w)

	got := get(t, s, jobID)
	if got.State != job.StateKilled || got.LastError != "operator" {
		t.Fatalf("state = %s last_error = %q", got.State, got.LastError)
	}
	if stats := w.Stats(); stats.StoreErrors != 0 || stats.Acked != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWorker_Heartbeat(t *testing.T) {
	var s *memory.Store
	var firstLock atomic.Pointer[time.Time]
	s, w, jobID := setup(t, "long", func(ctx context.Context, jc *job.Context, _ noop) (job.Outcome, error) {
		env, _ := s.Get(ctx, jc.JobID())
		firstLock.Store(env.LockAt)
		time.Sleep(60 * time.Millisecond)
		env, _ = s.Get(ctx, jc.JobID())
		if !env.LockAt.After(*firstLock.Load()) {
			return job.OutcomeRetry, errors.New("lock not renewed")
		}
		return jc.Ack(), nil
	}, 3, worker.WithHeartbeatInterval(10*time.Millisecond))

	process(t, w)

	if got := get(t, s, jobID); got.State != job.StateDone {
		t.Fatalf("state = %s last_error = %q", got.State, got.LastError)
	}
}

func TestWorker_TrackerReports(t *testing.T) {
	sink := tracker.NewChannel(8)
	_, w, jobID := setup(t, "report", func(_ context.Context, jc *job.Context, _ noop) (job.Outcome, error) {
		jc.UpdateProgress(50)
		return jc.Ack(), nil
	}, 3, worker.WithTrackerSink(sink))

	process(t, w)
	sink.Close()

	var kinds []tracker.Kind
	for r := range sink.C() {
		if !r.JobID.Equal(jobID) {
			t.Fatalf("report for %s, want %s", r.JobID, jobID)
		}
		kinds = append(kinds, r.Kind)
	}
	want := []tracker.Kind{tracker.KindProgress, tracker.KindCompleted}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
}

type hooks struct {
	mu     sync.Mutex
	events []string
}

func (h *hooks) Name() string { return "hooks" }

func (h *hooks) record(e string) error {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
	return nil
}

func (h *hooks) OnJobStarted(context.Context, *job.Envelope) error { return h.record("started") }

func (h *hooks) OnJobCompleted(context.Context, *job.Envelope, time.Duration) error {
	return h.record("completed")
}

func (h *hooks) OnJobRetrying(_ context.Context, env *job.Envelope, _ time.Time, _ error) error {
	return h.record("retrying:" + string(env.State))
}

func (h *hooks) OnJobKilled(_ context.Context, _ *job.Envelope, reason string) error {
	return h.record("killed:" + reason)
}

func TestWorker_EmitsLifecycleHooks(t *testing.T) {
	h := &hooks{}
	registry := ext.NewRegistry(quiet)
	registry.Register(h)

	var calls atomic.Int32
	_, w, _ := setup(t, "hooked", job.Func(func(context.Context, noop) error {
		if calls.Add(1) == 1 {
			return errors.New("first")
		}
		return nil
	}), 3, worker.WithExtensions(registry))

	process(t, w)
	process(t, w)

	want := []string{"started", "retrying:failed", "started", "completed"}
	h.mu.Lock()
	defer h.mu.Unlock()
	if strings.Join(h.events, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", h.events, want)
	}
}

func TestWorker_LayersWrapHandler(t *testing.T) {
	type requestID string
	var seen requestID
	s := memory.New()
	r := job.NewRegistry()
	def := job.NewDefinition("layered", func(_ context.Context, jc *job.Context, _ noop) (job.Outcome, error) {
		seen, _ = job.Get[requestID](jc)
		return jc.Ack(), nil
	})
	job.Register(r, def)
	if _, err := job.Enqueue(context.Background(), s, def, noop{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := worker.NewBuilder(s, r).
		Layer(layer.AddExtension(requestID("req-1"))).
		With(worker.WithLogger(quiet)).
		Build()
	process(t, w)

	if seen != "req-1" {
		t.Fatalf("extension = %q, want req-1", seen)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	var done atomic.Int32
	s, w, _ := setup(t, "loop", job.Func(func(context.Context, noop) error {
		done.Add(1)
		return nil
	}), 3)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for done.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job not processed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := w.Run(context.Background()); !errors.Is(err, conveyor.ErrWorkerRunning) {
		t.Fatalf("second Run: err = %v, want ErrWorkerRunning", err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	n, _ := s.Count(context.Background(), job.CountOpts{State: job.StateDone})
	if n != 1 {
		t.Fatalf("done = %d, want 1", n)
	}
}

func TestWorker_CancelAbortsActiveJob(t *testing.T) {
	started := make(chan struct{})
	s, w, jobID := setup(t, "stuck", func(ctx context.Context, _ *job.Context, _ noop) (job.Outcome, error) {
		close(started)
		<-ctx.Done()
		return job.OutcomeRetry, ctx.Err()
	}, 3)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = w.ProcessNext(context.Background())
	}()

	<-started
	w.Cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled job did not settle")
	}

	if got := get(t, s, jobID); got.State != job.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
}

func TestWorker_EmptyNameSetClaimsNothing(t *testing.T) {
	s := memory.New()
	jobID, err := s.Enqueue(context.Background(), job.NewEnvelope("other-group", nil, 3))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := worker.NewBuilder(s, job.NewRegistry()).With(worker.WithLogger(quiet)).Build()
	claimed, err := w.ProcessNext(context.Background())
	if err != nil || claimed {
		t.Fatalf("ProcessNext = %v, %v; want no claim", claimed, err)
	}
	if err := w.Run(context.Background()); !errors.Is(err, conveyor.ErrNoHandler) {
		t.Fatalf("Run: err = %v, want ErrNoHandler", err)
	}

	got := get(t, s, jobID)
	if got.State != job.StatePending || got.Attempts != 0 {
		t.Fatalf("state = %s attempts = %d, want untouched pending", got.State, got.Attempts)
	}
}

// failingStore fails the first fetches and acks it sees.
type failingStore struct {
	job.Store
	fetchFailures atomic.Int32
	ackFailures   atomic.Int32
}

func (f *failingStore) FetchNext(ctx context.Context, workerID id.WorkerID, names ...string) (*job.Envelope, error) {
	if f.fetchFailures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return f.Store.FetchNext(ctx, workerID, names...)
}

func (f *failingStore) Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	if f.ackFailures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Store.Ack(ctx, jobID, workerID)
}

func TestWorker_SurvivesStoreErrors(t *testing.T) {
	mem := memory.New(memory.WithLockTimeout(30 * time.Millisecond))
	s := &failingStore{Store: mem}
	s.fetchFailures.Store(2)
	s.ackFailures.Store(1)

	var calls atomic.Int32
	r := job.NewRegistry()
	def := job.NewDefinition("receipt", job.Func(func(context.Context, noop) error {
		calls.Add(1)
		return nil
	}))
	job.Register(r, def)
	jobID, err := job.Enqueue(context.Background(), mem, def, noop{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := worker.NewBuilder(s, r).With(
		worker.WithLogger(quiet),
		worker.WithPollInterval(5*time.Millisecond),
		worker.WithErrorBackoff(5*time.Millisecond),
	).Build()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for get(t, mem, jobID).State != job.StateDone {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("job not done, state = %s", get(t, mem, jobID).State)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := w.Stats()
	if stats.StoreErrors != 3 {
		t.Fatalf("store errors = %d, want 3", stats.StoreErrors)
	}
	if stats.Acked != 1 || stats.Claimed != 2 {
		t.Fatalf("acked = %d claimed = %d, want 1 and 2", stats.Acked, stats.Claimed)
	}
	if got := get(t, mem, jobID); got.Attempts != 2 || calls.Load() != 2 {
		t.Fatalf("attempts = %d calls = %d, want 2 each", got.Attempts, calls.Load())
	}
}
