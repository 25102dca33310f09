package job

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// RetryOpts configures a Retry transition.
type RetryOpts struct {
	// RunAt is the earliest time of the next attempt. Zero means now.
	RunAt time.Time
	// Fault is the failure message. A non-empty fault moves the envelope
	// to failed rather than pending.
	Fault string
}

// KillOpts configures a Kill transition.
type KillOpts struct {
	// WorkerID, when set, must match the claim holder. External kills
	// leave it Nil.
	WorkerID id.WorkerID
	// Reason is recorded as the envelope's last error.
	Reason string
}

// Store is the persistence contract every backend satisfies. All methods
// are safe for concurrent use by many workers and processes.
//
// Guarded transitions (Ack, Retry, Kill, Heartbeat) on an envelope that is
// not running, or is held by another worker, return an error matching
// conveyor.ErrStaleTransition. Unknown IDs return conveyor.ErrJobNotFound.
type Store interface {
	// Setup idempotently provisions backend resources such as schema.
	// Failures are reported as *conveyor.StorageInitError.
	Setup(ctx context.Context) error

	// Enqueue persists env as pending and runnable now. It assigns an ID
	// when env.ID is Nil.
	Enqueue(ctx context.Context, env *Envelope) (id.JobID, error)

	// Schedule is Enqueue with an explicit RunAt.
	Schedule(ctx context.Context, env *Envelope, runAt time.Time) (id.JobID, error)

	// FetchNext atomically claims the claimable envelope with the earliest
	// RunAt, optionally restricted to names. Claimable means pending or
	// failed with RunAt in the past, or running with an expired lock and
	// attempts left. The claim sets running, increments Attempts and
	// records workerID. It returns nil, nil when nothing is claimable.
	FetchNext(ctx context.Context, workerID id.WorkerID, names ...string) (*Envelope, error)

	// Ack moves a running envelope held by workerID to done.
	Ack(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// Retry releases a running envelope held by workerID. With attempts
	// left it becomes pending (or failed, when opts.Fault is set) at
	// opts.RunAt; otherwise it is killed. It returns the new state.
	Retry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, opts RetryOpts) (State, error)

	// Kill moves a running envelope to killed regardless of attempts.
	Kill(ctx context.Context, jobID id.JobID, opts KillOpts) error

	// Heartbeat renews the lock of a running envelope held by workerID.
	Heartbeat(ctx context.Context, workerID id.WorkerID, jobID id.JobID) error
}

// ListOpts controls pagination and filtering for envelope listings.
type ListOpts struct {
	// State filters by state. Empty means all states.
	State State
	// Name filters by job name. Empty means all names.
	Name string
	// Limit is the maximum number of envelopes to return. Zero means no limit.
	Limit int
	// Offset is the number of envelopes to skip.
	Offset int
}

// CountOpts controls filtering for envelope counts.
type CountOpts struct {
	State State
	Name  string
}

// Inspector is the optional read side of a store.
type Inspector interface {
	// Get returns a copy of the envelope.
	Get(ctx context.Context, jobID id.JobID) (*Envelope, error)

	// List returns envelopes ordered by RunAt then ID.
	List(ctx context.Context, opts ListOpts) ([]*Envelope, error)

	// Count returns the number of envelopes matching opts.
	Count(ctx context.Context, opts CountOpts) (int64, error)
}
