// Package storetest is the conformance suite every store backend runs.
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store {
//	        return memory.New(memory.WithLockTimeout(storetest.LockTimeout))
//	    })
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/store"
)

// LockTimeout is the lock timeout factories must configure. The stall
// tests sleep past it.
const LockTimeout = 500 * time.Millisecond

// Factory returns an empty store configured with LockTimeout. It is called
// once per subtest.
type Factory func(t *testing.T) store.Store

// Run runs the suite against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"SetupIdempotent", testSetupIdempotent},
		{"EnqueueDefaults", testEnqueueDefaults},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"FetchEmpty", testFetchEmpty},
		{"FetchClaims", testFetchClaims},
		{"FetchOrder", testFetchOrder},
		{"FetchSkipsFuture", testFetchSkipsFuture},
		{"FetchNameFilter", testFetchNameFilter},
		{"AckGuards", testAckGuards},
		{"RetryStates", testRetryStates},
		{"RetryExhausted", testRetryExhausted},
		{"FailedClaimable", testFailedClaimable},
		{"KillGuards", testKillGuards},
		{"HeartbeatGuards", testHeartbeatGuards},
		{"StalledReclaim", testStalledReclaim},
		{"StalledExhaustedKilled", testStalledExhaustedKilled},
		{"ConcurrentClaims", testConcurrentClaims},
		{"Inspector", testInspector},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t)
			if err := s.Setup(context.Background()); err != nil {
				t.Fatalf("Setup: %v", err)
			}
			tt.fn(t, s)
		})
	}
}

func enqueue(t *testing.T, s store.Store, name string, maxAttempts int) id.JobID {
	t.Helper()
	jobID, err := s.Enqueue(context.Background(), job.NewEnvelope(name, []byte(`{"n":1}`), maxAttempts))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return jobID
}

func schedule(t *testing.T, s store.Store, name string, runAt time.Time) id.JobID {
	t.Helper()
	jobID, err := s.Schedule(context.Background(), job.NewEnvelope(name, nil, 3), runAt)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	return jobID
}

func fetch(t *testing.T, s store.Store, workerID id.WorkerID, names ...string) *job.Envelope {
	t.Helper()
	env, err := s.FetchNext(context.Background(), workerID, names...)
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	return env
}

func get(t *testing.T, s store.Store, jobID id.JobID) *job.Envelope {
	t.Helper()
	env, err := s.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get(%s): %v", jobID, err)
	}
	return env
}

func wantStale(t *testing.T, op string, err error) {
	t.Helper()
	if !errors.Is(err, conveyor.ErrStaleTransition) {
		t.Fatalf("%s: err = %v, want stale transition", op, err)
	}
}

func testSetupIdempotent(t *testing.T, s store.Store) {
	if err := s.Setup(context.Background()); err != nil {
		t.Fatalf("second Setup: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testEnqueueDefaults(t *testing.T, s store.Store) {
	env := job.NewEnvelope("email", []byte("payload"), 0)
	env.ID = id.Nil
	env.MaxAttempts = 0

	before := time.Now().Add(-time.Second)
	jobID, err := s.Enqueue(context.Background(), env)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if jobID.IsNil() {
		t.Fatal("expected an assigned ID")
	}

	got := get(t, s, jobID)
	if got.State != job.StatePending {
		t.Errorf("state = %s, want pending", got.State)
	}
	if got.MaxAttempts != conveyor.DefaultMaxAttempts {
		t.Errorf("max attempts = %d, want %d", got.MaxAttempts, conveyor.DefaultMaxAttempts)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}
	if got.RunAt.Before(before) || got.RunAt.After(time.Now().Add(time.Second)) {
		t.Errorf("run_at = %v, want about now", got.RunAt)
	}
	if string(got.Payload) != "payload" {
		t.Errorf("payload = %q", got.Payload)
	}
}

func testEnqueueDuplicate(t *testing.T, s store.Store) {
	env := job.NewEnvelope("email", nil, 3)
	if _, err := s.Enqueue(context.Background(), env); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	dup := job.NewEnvelope("email", nil, 3)
	dup.ID = env.ID
	if _, err := s.Enqueue(context.Background(), dup); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("err = %v, want ErrJobAlreadyExists", err)
	}
}

func testFetchEmpty(t *testing.T, s store.Store) {
	if env := fetch(t, s, id.NewWorkerID()); env != nil {
		t.Fatalf("expected nothing to claim, got %s", env.ID)
	}
}

func testFetchClaims(t *testing.T, s store.Store) {
	jobID := enqueue(t, s, "email", 3)
	workerID := id.NewWorkerID()

	env := fetch(t, s, workerID)
	if env == nil {
		t.Fatal("expected a claim")
	}
	if !env.ID.Equal(jobID) {
		t.Fatalf("claimed %s, want %s", env.ID, jobID)
	}
	if env.State != job.StateRunning || env.Attempts != 1 || !env.LockBy.Equal(workerID) || env.LockAt == nil {
		t.Fatalf("claim effect not applied: %+v", env)
	}
	if string(env.Payload) != `{"n":1}` {
		t.Fatalf("payload = %q", env.Payload)
	}

	if again := fetch(t, s, id.NewWorkerID()); again != nil {
		t.Fatalf("running envelope claimed twice by %s", again.LockBy)
	}
}

func testFetchOrder(t *testing.T, s store.Store) {
	now := time.Now()
	second := schedule(t, s, "email", now.Add(-2*time.Second))
	third := schedule(t, s, "email", now.Add(-1*time.Second))
	first := schedule(t, s, "email", now.Add(-3*time.Second))

	workerID := id.NewWorkerID()
	for i, want := range []id.JobID{first, second, third} {
		env := fetch(t, s, workerID)
		if env == nil || !env.ID.Equal(want) {
			t.Fatalf("claim %d = %v, want %s", i, env, want)
		}
	}
}

func testFetchSkipsFuture(t *testing.T, s store.Store) {
	schedule(t, s, "email", time.Now().Add(time.Hour))
	if env := fetch(t, s, id.NewWorkerID()); env != nil {
		t.Fatalf("claimed future envelope %s", env.ID)
	}
}

func testFetchNameFilter(t *testing.T, s store.Store) {
	enqueue(t, s, "email", 3)
	smsID := enqueue(t, s, "sms", 3)

	env := fetch(t, s, id.NewWorkerID(), "sms", "push")
	if env == nil || !env.ID.Equal(smsID) {
		t.Fatalf("claimed %v, want %s", env, smsID)
	}
	if env := fetch(t, s, id.NewWorkerID(), "push"); env != nil {
		t.Fatalf("claimed %s for unknown name", env.ID)
	}
}

func testAckGuards(t *testing.T, s store.Store) {
	ctx := context.Background()
	pendingID := enqueue(t, s, "email", 3)
	wantStale(t, "ack pending", s.Ack(ctx, pendingID, id.NewWorkerID()))

	workerID := id.NewWorkerID()
	env := fetch(t, s, workerID)
	wantStale(t, "ack by other worker", s.Ack(ctx, env.ID, id.NewWorkerID()))

	if err := s.Ack(ctx, env.ID, workerID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	got := get(t, s, env.ID)
	if got.State != job.StateDone || got.DoneAt == nil {
		t.Fatalf("state = %s done_at = %v, want done", got.State, got.DoneAt)
	}
	wantStale(t, "second ack", s.Ack(ctx, env.ID, workerID))

	if err := s.Ack(ctx, id.NewJobID(), workerID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("ack unknown: err = %v, want ErrJobNotFound", err)
	}
}

func testRetryStates(t *testing.T, s store.Store) {
	ctx := context.Background()
	tests := []struct {
		name  string
		fault string
		want  job.State
	}{
		{"requested", "", job.StatePending},
		{"faulted", "boom", job.StateFailed},
	}

	for _, tt := range tests {
		jobID := enqueue(t, s, tt.name, 3)
		workerID := id.NewWorkerID()
		if env := fetch(t, s, workerID, tt.name); env == nil {
			t.Fatalf("%s: expected a claim", tt.name)
		}

		runAt := time.Now().Add(time.Hour).UTC()
		state, err := s.Retry(ctx, jobID, workerID, job.RetryOpts{RunAt: runAt, Fault: tt.fault})
		if err != nil {
			t.Fatalf("%s: Retry: %v", tt.name, err)
		}
		if state != tt.want {
			t.Fatalf("%s: state = %s, want %s", tt.name, state, tt.want)
		}

		got := get(t, s, jobID)
		if got.State != tt.want || got.LastError != tt.fault {
			t.Fatalf("%s: stored state = %s last_error = %q", tt.name, got.State, got.LastError)
		}
		if !got.LockBy.IsNil() {
			t.Fatalf("%s: lock not cleared: %s", tt.name, got.LockBy)
		}
		if d := got.RunAt.Sub(runAt); d > time.Millisecond || d < -time.Millisecond {
			t.Fatalf("%s: run_at = %v, want %v", tt.name, got.RunAt, runAt)
		}
		if env := fetch(t, s, workerID, tt.name); env != nil {
			t.Fatalf("%s: claimed before run_at", tt.name)
		}
		wantStale(t, tt.name+" retry twice", func() error {
			_, err := s.Retry(ctx, jobID, workerID, job.RetryOpts{})
			return err
		}())
	}
}

func testRetryExhausted(t *testing.T, s store.Store) {
	jobID := enqueue(t, s, "email", 1)
	workerID := id.NewWorkerID()
	fetch(t, s, workerID)

	state, err := s.Retry(context.Background(), jobID, workerID, job.RetryOpts{Fault: "boom"})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if state != job.StateKilled {
		t.Fatalf("state = %s, want killed", state)
	}
	if got := get(t, s, jobID); got.State != job.StateKilled || got.Attempts != 1 {
		t.Fatalf("stored state = %s attempts = %d", got.State, got.Attempts)
	}
}

func testFailedClaimable(t *testing.T, s store.Store) {
	jobID := enqueue(t, s, "email", 3)
	workerID := id.NewWorkerID()
	fetch(t, s, workerID)
	if _, err := s.Retry(context.Background(), jobID, workerID, job.RetryOpts{Fault: "boom"}); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	env := fetch(t, s, workerID)
	if env == nil || !env.ID.Equal(jobID) {
		t.Fatalf("failed envelope not reclaimed: %v", env)
	}
	if env.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", env.Attempts)
	}
}

func testKillGuards(t *testing.T, s store.Store) {
	ctx := context.Background()
	pendingID := enqueue(t, s, "pending", 3)
	wantStale(t, "kill pending", s.Kill(ctx, pendingID, job.KillOpts{Reason: "no"}))

	workerID := id.NewWorkerID()
	jobID := enqueue(t, s, "email", 3)
	fetch(t, s, workerID, "email")
	wantStale(t, "kill by other worker", s.Kill(ctx, jobID, job.KillOpts{WorkerID: id.NewWorkerID()}))

	if err := s.Kill(ctx, jobID, job.KillOpts{Reason: "operator"}); err != nil {
		t.Fatalf("external Kill: %v", err)
	}
	got := get(t, s, jobID)
	if got.State != job.StateKilled || got.LastError != "operator" {
		t.Fatalf("state = %s last_error = %q", got.State, got.LastError)
	}
	wantStale(t, "ack killed", s.Ack(ctx, jobID, workerID))

	if err := s.Kill(ctx, id.NewJobID(), job.KillOpts{}); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("kill unknown: err = %v, want ErrJobNotFound", err)
	}
}

func testHeartbeatGuards(t *testing.T, s store.Store) {
	ctx := context.Background()
	workerID := id.NewWorkerID()
	jobID := enqueue(t, s, "email", 3)
	env := fetch(t, s, workerID)

	time.Sleep(10 * time.Millisecond)
	if err := s.Heartbeat(ctx, workerID, jobID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	got := get(t, s, jobID)
	if got.LockAt == nil || !got.LockAt.After(*env.LockAt) {
		t.Fatalf("lock_at not renewed: %v -> %v", env.LockAt, got.LockAt)
	}
	wantStale(t, "heartbeat other worker", s.Heartbeat(ctx, id.NewWorkerID(), jobID))

	if err := s.Ack(ctx, jobID, workerID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	wantStale(t, "heartbeat done", s.Heartbeat(ctx, workerID, jobID))
}

func testStalledReclaim(t *testing.T, s store.Store) {
	jobID := enqueue(t, s, "email", 3)
	crashed := id.NewWorkerID()
	fetch(t, s, crashed)

	if env := fetch(t, s, id.NewWorkerID()); env != nil {
		t.Fatal("reclaimed before lock expiry")
	}
	time.Sleep(LockTimeout + 200*time.Millisecond)

	rescuer := id.NewWorkerID()
	env := fetch(t, s, rescuer)
	if env == nil || !env.ID.Equal(jobID) {
		t.Fatalf("stalled envelope not reclaimed: %v", env)
	}
	if env.Attempts != 2 || !env.LockBy.Equal(rescuer) {
		t.Fatalf("attempts = %d lock_by = %s", env.Attempts, env.LockBy)
	}
	wantStale(t, "ack by crashed worker", s.Ack(context.Background(), jobID, crashed))
	if err := s.Ack(context.Background(), jobID, rescuer); err != nil {
		t.Fatalf("Ack by rescuer: %v", err)
	}
}

func testStalledExhaustedKilled(t *testing.T, s store.Store) {
	jobID := enqueue(t, s, "email", 1)
	fetch(t, s, id.NewWorkerID())
	time.Sleep(LockTimeout + 200*time.Millisecond)

	if env := fetch(t, s, id.NewWorkerID()); env != nil {
		t.Fatalf("exhausted envelope reclaimed: %s", env.ID)
	}
	if got := get(t, s, jobID); got.State != job.StateKilled {
		t.Fatalf("state = %s, want killed", got.State)
	}
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	const jobs, workers = 40, 8
	for i := 0; i < jobs; i++ {
		enqueue(t, s, "email", 3)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
		errs    = make(chan error, workers)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerID := id.NewWorkerID()
			for {
				env, err := s.FetchNext(context.Background(), workerID)
				if err != nil {
					errs <- err
					return
				}
				if env == nil {
					return
				}
				mu.Lock()
				claimed[env.ID.String()]++
				mu.Unlock()
				if err := s.Ack(context.Background(), env.ID, workerID); err != nil {
					errs <- fmt.Errorf("ack %s: %w", env.ID, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("worker: %v", err)
	}

	if len(claimed) != jobs {
		t.Fatalf("claimed %d distinct envelopes, want %d", len(claimed), jobs)
	}
	for jobID, n := range claimed {
		if n != 1 {
			t.Fatalf("envelope %s claimed %d times", jobID, n)
		}
	}
}

func testInspector(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()
	var ids []id.JobID
	for i := 0; i < 5; i++ {
		ids = append(ids, schedule(t, s, "email", now.Add(time.Duration(i-10)*time.Second)))
	}
	schedule(t, s, "sms", now.Add(-time.Minute))

	workerID := id.NewWorkerID()
	fetch(t, s, workerID, "sms")

	total, err := s.Count(ctx, job.CountOpts{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 6 {
		t.Fatalf("total = %d, want 6", total)
	}
	pending, err := s.Count(ctx, job.CountOpts{State: job.StatePending, Name: "email"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if pending != 5 {
		t.Fatalf("pending email = %d, want 5", pending)
	}

	page, err := s.List(ctx, job.ListOpts{Name: "email", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 || !page[0].ID.Equal(ids[1]) || !page[1].ID.Equal(ids[2]) {
		t.Fatalf("page = %v, want [%s %s]", page, ids[1], ids[2])
	}

	running, err := s.List(ctx, job.ListOpts{State: job.StateRunning})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(running) != 1 || running[0].Name != "sms" {
		t.Fatalf("running = %v", running)
	}

	if _, err := s.Get(ctx, id.NewJobID()); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("Get unknown: err = %v, want ErrJobNotFound", err)
	}
}
