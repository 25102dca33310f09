package job

import (
	"reflect"
	"sync"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/tracker"
)

// Context is the per-execution data bag handed to layers and handlers.
// A worker builds a fresh Context for every attempt, so values inserted
// during one attempt never reach the next.
type Context struct {
	jobID   id.JobID
	name    string
	attempt int

	mu         sync.RWMutex
	extensions map[reflect.Type]any
	tracker    *tracker.Tracker
}

// NewContext creates the context for one attempt of env. tr may be nil.
func NewContext(env *Envelope, tr *tracker.Tracker) *Context {
	return &Context{
		jobID:      env.ID,
		name:       env.Name,
		attempt:    env.Attempts,
		extensions: make(map[reflect.Type]any),
		tracker:    tr,
	}
}

// JobID returns the ID of the executing envelope.
func (c *Context) JobID() id.JobID { return c.jobID }

// Name returns the job name.
func (c *Context) Name() string { return c.name }

// Attempt returns the 1-indexed attempt number.
func (c *Context) Attempt() int { return c.attempt }

// Tracker returns the bound tracker, or nil.
func (c *Context) Tracker() *tracker.Tracker { return c.tracker }

// UpdateProgress reports pct to the bound tracker without blocking. It is
// a no-op when no tracker is bound.
func (c *Context) UpdateProgress(pct uint8) {
	c.tracker.UpdateProgress(pct)
}

// Ack returns OutcomeAck.
func (c *Context) Ack() Outcome { return OutcomeAck }

// Retry returns OutcomeRetry.
func (c *Context) Retry() Outcome { return OutcomeRetry }

// Kill returns OutcomeKill.
func (c *Context) Kill() Outcome { return OutcomeKill }

// Insert stores v under its static type T. It returns the value it
// replaced and whether there was one.
func Insert[T any](c *Context, v T) (prev T, replaced bool) {
	key := typeKey[T]()
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.extensions[key]; ok {
		prev, replaced = old.(T) //nolint:forcetypeassert // keyed by T
	}
	c.extensions[key] = v
	return prev, replaced
}

// Get returns the value stored under type T.
func Get[T any](c *Context) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.extensions[typeKey[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true //nolint:forcetypeassert // keyed by T
}

// Remove deletes the value stored under type T and returns it.
func Remove[T any](c *Context) (T, bool) {
	key := typeKey[T]()
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.extensions[key]
	if !ok {
		var zero T
		return zero, false
	}
	delete(c.extensions, key)
	return v.(T), true //nolint:forcetypeassert // keyed by T
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
