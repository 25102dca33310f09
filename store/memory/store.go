// Package memory provides an in-process job store. It is safe for
// concurrent use and intended for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/store"
)

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout sets how long a running envelope may go without a
// heartbeat before another worker may reclaim it.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxAttempts sets the default applied to envelopes enqueued without one.
func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

// Store is a mutex-guarded map of envelopes.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*job.Envelope

	lockTimeout time.Duration
	maxAttempts int
	now         func() time.Time
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	cfg := conveyor.DefaultConfig()
	s := &Store{
		jobs:        make(map[string]*job.Envelope),
		lockTimeout: cfg.LockTimeout,
		maxAttempts: cfg.MaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Setup is a no-op.
func (s *Store) Setup(context.Context) error { return nil }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Enqueue persists env as pending and runnable now.
func (s *Store) Enqueue(ctx context.Context, env *job.Envelope) (id.JobID, error) {
	return s.Schedule(ctx, env, time.Time{})
}

// Schedule persists env as pending at runAt. A zero runAt means now.
func (s *Store) Schedule(_ context.Context, env *job.Envelope, runAt time.Time) (id.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if runAt.IsZero() {
		runAt = now
	}
	if env.ID.IsNil() {
		env.ID = id.NewJobID()
	}
	key := env.ID.String()
	if _, exists := s.jobs[key]; exists {
		return id.Nil, conveyor.ErrJobAlreadyExists
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = s.maxAttempts
	}

	cp := env.Clone()
	cp.State = job.StatePending
	cp.RunAt = runAt.UTC()
	cp.Attempts = 0
	cp.LockBy = id.Nil
	cp.LockAt = nil
	cp.DoneAt = nil
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.jobs[key] = cp
	return env.ID, nil
}

// FetchNext claims the earliest runnable envelope. Stalled envelopes with
// no attempts left are killed on the way.
func (s *Store) FetchNext(_ context.Context, workerID id.WorkerID, names ...string) (*job.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	filter := make(map[string]struct{}, len(names))
	for _, n := range names {
		filter[n] = struct{}{}
	}

	var next *job.Envelope
	for _, env := range s.jobs {
		if len(filter) > 0 {
			if _, ok := filter[env.Name]; !ok {
				continue
			}
		}
		if env.LockExpired(now, s.lockTimeout) && env.Exhausted() {
			env.State = job.StateKilled
			env.LastError = "lock expired with no attempts left"
			env.DoneAt = &now
			env.UpdatedAt = now
			continue
		}
		if !s.claimable(env, now) {
			continue
		}
		if next == nil || before(env, next) {
			next = env
		}
	}
	if next == nil {
		return nil, nil
	}

	next.State = job.StateRunning
	next.Attempts++
	next.LockBy = workerID
	lockAt := now
	next.LockAt = &lockAt
	next.UpdatedAt = now
	return next.Clone(), nil
}

// Ack moves a held envelope to done.
func (s *Store) Ack(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.held(jobID, workerID, "ack")
	if err != nil {
		return err
	}
	now := s.now()
	env.State = job.StateDone
	env.DoneAt = &now
	env.UpdatedAt = now
	return nil
}

// Retry releases a held envelope for another attempt, or kills it when no
// attempts remain.
func (s *Store) Retry(_ context.Context, jobID id.JobID, workerID id.WorkerID, opts job.RetryOpts) (job.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.held(jobID, workerID, "retry")
	if err != nil {
		return "", err
	}
	now := s.now()
	env.UpdatedAt = now
	env.LastError = opts.Fault

	if env.Exhausted() {
		env.State = job.StateKilled
		env.DoneAt = &now
		return env.State, nil
	}

	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	env.State = job.RetryState(opts.Fault != "")
	env.RunAt = runAt.UTC()
	env.LockBy = id.Nil
	env.LockAt = nil
	return env.State, nil
}

// Kill moves a running envelope to killed.
func (s *Store) Kill(_ context.Context, jobID id.JobID, opts job.KillOpts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.held(jobID, opts.WorkerID, "kill")
	if err != nil {
		return err
	}
	now := s.now()
	env.State = job.StateKilled
	env.LastError = opts.Reason
	env.DoneAt = &now
	env.UpdatedAt = now
	return nil
}

// Heartbeat renews the lock of a held envelope.
func (s *Store) Heartbeat(_ context.Context, workerID id.WorkerID, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.held(jobID, workerID, "heartbeat")
	if err != nil {
		return err
	}
	now := s.now()
	env.LockAt = &now
	env.UpdatedAt = now
	return nil
}

// Get returns a copy of an envelope.
func (s *Store) Get(_ context.Context, jobID id.JobID) (*job.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	return env.Clone(), nil
}

// List returns envelopes matching opts ordered by RunAt then ID.
func (s *Store) List(_ context.Context, opts job.ListOpts) ([]*job.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*job.Envelope, 0, len(s.jobs))
	for _, env := range s.jobs {
		if matches(env, opts.State, opts.Name) {
			result = append(result, env.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool { return before(result[i], result[k]) })

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*job.Envelope{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// Count returns the number of envelopes matching opts.
func (s *Store) Count(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, env := range s.jobs {
		if matches(env, opts.State, opts.Name) {
			n++
		}
	}
	return n, nil
}

// held returns the envelope if it is running and, when workerID is set,
// claimed by workerID. Callers hold s.mu.
func (s *Store) held(jobID id.JobID, workerID id.WorkerID, op string) (*job.Envelope, error) {
	env, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	if env.State != job.StateRunning || (!workerID.IsNil() && !env.LockBy.Equal(workerID)) {
		return nil, &conveyor.StaleTransitionError{
			JobID: jobID.String(),
			Op:    op,
			State: string(env.State),
		}
	}
	return env, nil
}

func (s *Store) claimable(env *job.Envelope, now time.Time) bool {
	if env.State.Claimable() {
		return !env.RunAt.After(now)
	}
	return env.LockExpired(now, s.lockTimeout) && !env.Exhausted()
}

func before(a, b *job.Envelope) bool {
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return a.ID.String() < b.ID.String()
}

func matches(env *job.Envelope, state job.State, name string) bool {
	if state != "" && env.State != state {
		return false
	}
	return name == "" || env.Name == name
}
