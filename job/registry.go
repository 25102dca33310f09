package job

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/conveyor/backoff"
)

// HandlerFunc is a type-erased handler that accepts the encoded payload.
// Register builds one from a typed Definition by closing over its codec.
type HandlerFunc func(ctx context.Context, jc *Context, payload []byte) (Outcome, error)

// Entry is what the registry holds for one job name.
type Entry struct {
	Name    string
	Handler HandlerFunc
	// Backoff is nil unless the definition overrides the worker default.
	Backoff backoff.Strategy
}

// Registry maps job names to handlers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds a typed definition. Registering a name twice replaces the
// earlier handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, jc *Context, data []byte) (Outcome, error) {
		payload, err := def.Decode(data)
		if err != nil {
			return OutcomeRetry, fmt.Errorf("decode %s payload for job %q: %w", def.Opts.Codec.Name(), def.Name, err)
		}
		return def.Handler(ctx, jc, payload)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = Entry{Name: def.Name, Handler: handler, Backoff: def.Opts.Backoff}
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
