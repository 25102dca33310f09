package job_test

import (
	"testing"

	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/tracker"
)

type requestID string

type dbHandle struct{ dsn string }

func TestContext_InsertGet(t *testing.T) {
	jc := newContext("email")

	if _, ok := job.Get[requestID](jc); ok {
		t.Fatal("expected empty context")
	}

	prev, replaced := job.Insert(jc, requestID("req-1"))
	if replaced || prev != "" {
		t.Fatalf("first insert replaced %q", prev)
	}

	got, ok := job.Get[requestID](jc)
	if !ok || got != "req-1" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	prev, replaced = job.Insert(jc, requestID("req-2"))
	if !replaced || prev != "req-1" {
		t.Fatalf("second insert returned %q, %v; want req-1, true", prev, replaced)
	}
}

func TestContext_KeyedByType(t *testing.T) {
	jc := newContext("email")
	job.Insert(jc, requestID("req-1"))
	job.Insert(jc, &dbHandle{dsn: "postgres://"})
	job.Insert(jc, "plain string")

	if got, _ := job.Get[requestID](jc); got != "req-1" {
		t.Fatalf("requestID = %q", got)
	}
	if got, _ := job.Get[string](jc); got != "plain string" {
		t.Fatalf("string = %q", got)
	}
	if got, ok := job.Get[*dbHandle](jc); !ok || got.dsn != "postgres://" {
		t.Fatalf("dbHandle = %+v", got)
	}
	if _, ok := job.Get[dbHandle](jc); ok {
		t.Fatal("value and pointer types must not share a slot")
	}
}

func TestContext_Remove(t *testing.T) {
	jc := newContext("email")
	job.Insert(jc, 42)

	if v, ok := job.Remove[int](jc); !ok || v != 42 {
		t.Fatalf("Remove = %d, %v", v, ok)
	}
	if _, ok := job.Get[int](jc); ok {
		t.Fatal("expected value removed")
	}
}

func TestContext_FreshPerAttempt(t *testing.T) {
	env := job.NewEnvelope("email", nil, 0)
	first := job.NewContext(env, nil)
	job.Insert(first, requestID("req-1"))

	env.Attempts++
	second := job.NewContext(env, nil)
	if _, ok := job.Get[requestID](second); ok {
		t.Fatal("extension leaked into the next attempt")
	}
	if second.Attempt() != 1 {
		t.Fatalf("attempt = %d, want 1", second.Attempt())
	}
}

func TestContext_UpdateProgressWithoutTracker(t *testing.T) {
	jc := newContext("email")
	if jc.Tracker() != nil {
		t.Fatal("expected no tracker")
	}
	jc.UpdateProgress(50)
}

func TestContext_UpdateProgressWithTracker(t *testing.T) {
	env := job.NewEnvelope("email", nil, 0)
	ch := tracker.NewChannel(1)
	jc := job.NewContext(env, tracker.New(env.ID, env.Name, ch))

	jc.UpdateProgress(75)

	r := <-ch.C()
	if r.Kind != tracker.KindProgress || r.Progress != 75 || !r.JobID.Equal(env.ID) {
		t.Fatalf("report = %+v", r)
	}
	if !jc.JobID().Equal(env.ID) || jc.Name() != "email" {
		t.Fatalf("context identity = %s %s", jc.JobID(), jc.Name())
	}
}
