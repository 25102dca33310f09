package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobStarted(context.Context, *job.Envelope) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobCompleted(context.Context, *job.Envelope, time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobRetrying(context.Context, *job.Envelope, time.Time, error) error {
	e.calls = append(e.calls, "OnJobRetrying")
	return nil
}

func (e *allHooksExt) OnJobKilled(context.Context, *job.Envelope, string) error {
	e.calls = append(e.calls, "OnJobKilled")
	return nil
}

func (e *allHooksExt) OnCronFired(context.Context, string, id.JobID) error {
	e.calls = append(e.calls, "OnCronFired")
	return nil
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// completedOnly implements a single hook and always fails.
type completedOnly struct{ count int }

func (e *completedOnly) Name() string { return "completed-only" }

func (e *completedOnly) OnJobCompleted(context.Context, *job.Envelope, time.Duration) error {
	e.count++
	return errors.New("sink unavailable")
}

func TestRegistry_EmitsEveryHook(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	env := job.NewEnvelope("email", nil, 0)
	r.EmitJobStarted(ctx, env)
	r.EmitJobCompleted(ctx, env, time.Second)
	r.EmitJobRetrying(ctx, env, time.Now(), nil)
	r.EmitJobKilled(ctx, env, "exhausted")
	r.EmitCronFired(ctx, "nightly", env.ID)
	r.EmitShutdown(ctx)

	want := []string{"OnJobStarted", "OnJobCompleted", "OnJobRetrying", "OnJobKilled", "OnCronFired", "OnShutdown"}
	if !reflect.DeepEqual(all.calls, want) {
		t.Fatalf("calls = %v, want %v", all.calls, want)
	}
}

func TestRegistry_OnlyMatchingHooks(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	c := &completedOnly{}
	r.Register(c)

	env := job.NewEnvelope("email", nil, 0)
	r.EmitJobStarted(context.Background(), env)
	r.EmitJobCompleted(context.Background(), env, time.Millisecond)

	if c.count != 1 {
		t.Fatalf("count = %d, want 1", c.count)
	}
	if !strings.Contains(buf.String(), "extension=completed-only") {
		t.Fatalf("hook error not logged: %s", buf.String())
	}
	if len(r.Extensions()) != 1 {
		t.Fatalf("extensions = %d", len(r.Extensions()))
	}
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *ext.Registry
	env := job.NewEnvelope("email", nil, 0)
	r.EmitJobStarted(context.Background(), env)
	r.EmitShutdown(context.Background())
	if r.Extensions() != nil {
		t.Fatal("expected no extensions")
	}
}
