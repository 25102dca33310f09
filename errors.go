package conveyor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Not found errors.
	ErrJobNotFound = errors.New("conveyor: job not found")
	ErrNoHandler   = errors.New("conveyor: no handler registered for job")

	ErrCronEntryNotFound = errors.New("conveyor: cron entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")
	ErrCronEntryExists  = errors.New("conveyor: cron entry already exists")

	// State errors.
	ErrStaleTransition = errors.New("conveyor: stale state transition")

	// Supervision errors.
	ErrNoWorkers      = errors.New("conveyor: no workers registered")
	ErrMonitorRunning = errors.New("conveyor: monitor already running")
	ErrWorkerRunning  = errors.New("conveyor: worker already running")

	// Configuration errors.
	ErrInvalidConfig = errors.New("conveyor: invalid config")
)

// StorageInitError reports that a backend could not provision its
// resources. It is the only error the core treats as fatal.
type StorageInitError struct {
	Backend string
	Err     error
}

func (e *StorageInitError) Error() string {
	return fmt.Sprintf("conveyor: %s storage init: %v", e.Backend, e.Err)
}

func (e *StorageInitError) Unwrap() error { return e.Err }

// ClaimError wraps a transient store failure observed by a worker during
// fetch, ack, retry, kill or heartbeat. Workers log it and keep polling.
type ClaimError struct {
	Op    string
	JobID string
	Err   error
}

func (e *ClaimError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("conveyor: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("conveyor: %s job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *ClaimError) Unwrap() error { return e.Err }

// HandlerFault is an unexpected handler failure: a returned error, a
// recovered panic or an ExecutionTimeout. Faults take the retry path.
type HandlerFault struct {
	JobID string
	Name  string
	Err   error
	// Panic holds the recovered value when the fault came from a panic.
	Panic any
}

func (e *HandlerFault) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("conveyor: job %s (%s) panicked: %v", e.JobID, e.Name, e.Panic)
	}
	return fmt.Sprintf("conveyor: job %s (%s) failed: %v", e.JobID, e.Name, e.Err)
}

func (e *HandlerFault) Unwrap() error { return e.Err }

// StaleTransitionError reports a transition attempted on an envelope that
// is not in the expected state or is held by another worker.
type StaleTransitionError struct {
	JobID string
	Op    string
	// State is the state the envelope was found in.
	State string
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("conveyor: stale %s on job %s in state %q", e.Op, e.JobID, e.State)
}

// Is matches ErrStaleTransition.
func (e *StaleTransitionError) Is(target error) bool {
	return target == ErrStaleTransition
}

// ExecutionTimeout reports a handler that ran past its deadline.
type ExecutionTimeout struct {
	JobID   string
	Timeout time.Duration
}

func (e *ExecutionTimeout) Error() string {
	return fmt.Sprintf("conveyor: job %s exceeded execution timeout %s", e.JobID, e.Timeout)
}

// IsStale reports whether err is a stale transition.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleTransition)
}
