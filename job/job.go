package job

import (
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
)

// State represents the lifecycle state of an envelope.
type State string

const (
	// StatePending means the envelope waits for its RunAt and a worker.
	StatePending State = "pending"
	// StateRunning means a worker holds the claim.
	StateRunning State = "running"
	// StateDone means the handler completed and the envelope was acked.
	StateDone State = "done"
	// StateFailed means the last attempt faulted and a retry is scheduled.
	StateFailed State = "failed"
	// StateKilled means the envelope will never run again.
	StateKilled State = "killed"
)

// States lists every state in lifecycle order.
var States = []State{StatePending, StateRunning, StateDone, StateFailed, StateKilled}

// ParseState validates s as a State.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("job: unknown state %q", s)
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateKilled
}

// Claimable reports whether FetchNext may claim an envelope in state s
// once its RunAt has passed.
func (s State) Claimable() bool {
	return s == StatePending || s == StateFailed
}

// Envelope is the persisted unit of work.
type Envelope struct {
	conveyor.Entity

	ID          id.JobID    `json:"id"`
	Name        string      `json:"name"`
	Payload     []byte      `json:"payload"`
	State       State       `json:"state"`
	RunAt       time.Time   `json:"run_at"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	LockBy      id.WorkerID `json:"lock_by,omitempty"`
	LockAt      *time.Time  `json:"lock_at,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	DoneAt      *time.Time  `json:"done_at,omitempty"`
}

// NewEnvelope builds a pending envelope with a fresh ID. A maxAttempts of
// zero or less selects conveyor.DefaultMaxAttempts.
func NewEnvelope(name string, payload []byte, maxAttempts int) *Envelope {
	if maxAttempts <= 0 {
		maxAttempts = conveyor.DefaultMaxAttempts
	}
	return &Envelope{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Payload:     payload,
		State:       StatePending,
		MaxAttempts: maxAttempts,
	}
}

// Exhausted reports whether no attempts remain.
func (e *Envelope) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// LockExpired reports whether a running envelope's claim is older than
// timeout at now.
func (e *Envelope) LockExpired(now time.Time, timeout time.Duration) bool {
	return e.State == StateRunning && e.LockAt != nil && !e.LockAt.Add(timeout).After(now)
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append([]byte(nil), e.Payload...)
	}
	if e.LockAt != nil {
		t := *e.LockAt
		cp.LockAt = &t
	}
	if e.DoneAt != nil {
		t := *e.DoneAt
		cp.DoneAt = &t
	}
	return &cp
}
