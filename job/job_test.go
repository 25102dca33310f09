package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/job"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to job.State
		want     bool
	}{
		{job.StatePending, job.StateRunning, true},
		{job.StateFailed, job.StateRunning, true},
		{job.StateRunning, job.StateDone, true},
		{job.StateRunning, job.StatePending, true},
		{job.StateRunning, job.StateFailed, true},
		{job.StateRunning, job.StateKilled, true},
		{job.StateRunning, job.StateRunning, true},
		{job.StatePending, job.StateDone, false},
		{job.StatePending, job.StateKilled, false},
		{job.StateDone, job.StateRunning, false},
		{job.StateKilled, job.StatePending, false},
		{job.StateFailed, job.StateDone, false},
	}
	for _, tt := range tests {
		if got := job.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatePredicates(t *testing.T) {
	for _, s := range job.States {
		if s.Terminal() && s.Claimable() {
			t.Errorf("%s is both terminal and claimable", s)
		}
		parsed, err := job.ParseState(string(s))
		if err != nil || parsed != s {
			t.Errorf("ParseState(%s) = %s, %v", s, parsed, err)
		}
	}
	if _, err := job.ParseState("completed"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestNewEnvelopeDefaults(t *testing.T) {
	env := job.NewEnvelope("email", []byte(`{}`), 0)
	if env.State != job.StatePending {
		t.Errorf("state = %s", env.State)
	}
	if env.MaxAttempts != conveyor.DefaultMaxAttempts {
		t.Errorf("max attempts = %d", env.MaxAttempts)
	}
	if env.ID.IsNil() {
		t.Error("expected ID")
	}
}

func TestEnvelopeLockExpired(t *testing.T) {
	now := time.Now()
	lockAt := now.Add(-time.Minute)
	env := &job.Envelope{State: job.StateRunning, LockAt: &lockAt}

	if !env.LockExpired(now, 30*time.Second) {
		t.Error("expected expired lock")
	}
	if env.LockExpired(now, 2*time.Minute) {
		t.Error("expected live lock")
	}
	env.State = job.StateDone
	if env.LockExpired(now, 30*time.Second) {
		t.Error("only running envelopes hold locks")
	}
}

func TestEnvelopeClone(t *testing.T) {
	lockAt := time.Now()
	env := job.NewEnvelope("email", []byte("abc"), 3)
	env.LockAt = &lockAt

	cp := env.Clone()
	cp.Payload[0] = 'x'
	*cp.LockAt = lockAt.Add(time.Hour)

	if string(env.Payload) != "abc" || !env.LockAt.Equal(lockAt) {
		t.Fatal("clone shares memory with the original")
	}
}

type recordingStore struct {
	job.Store
	got   *job.Envelope
	runAt time.Time
}

func (s *recordingStore) Enqueue(_ context.Context, env *job.Envelope) (conveyor.ID, error) {
	s.got = env
	return env.ID, nil
}

func (s *recordingStore) Schedule(_ context.Context, env *job.Envelope, runAt time.Time) (conveyor.ID, error) {
	s.got, s.runAt = env, runAt
	return env.ID, nil
}

func TestEnqueueEncodesWithDefinitionCodec(t *testing.T) {
	def := job.NewDefinition("email", job.Func(func(context.Context, emailPayload) error { return nil }),
		job.WithCodec(job.Msgpack), job.WithMaxAttempts(3))
	store := &recordingStore{}

	jobID, err := job.Enqueue(context.Background(), store, def, emailPayload{To: "bob@example.com"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !jobID.Equal(store.got.ID) || store.got.MaxAttempts != 3 || store.got.Name != "email" {
		t.Fatalf("envelope = %+v", store.got)
	}

	decoded, err := def.Decode(store.got.Payload)
	if err != nil || decoded.To != "bob@example.com" {
		t.Fatalf("decode = %+v, %v", decoded, err)
	}

	runAt := time.Now().Add(time.Hour)
	if _, err := job.Schedule(context.Background(), store, def, emailPayload{}, runAt); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !store.runAt.Equal(runAt) {
		t.Fatalf("runAt = %s, want %s", store.runAt, runAt)
	}
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "json", "msgpack"} {
		if _, err := job.CodecByName(name); err != nil {
			t.Errorf("CodecByName(%q): %v", name, err)
		}
	}
	if _, err := job.CodecByName("xml"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
