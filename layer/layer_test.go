package layer_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/layer"
)

func newRequest() (*job.Envelope, *job.Context) {
	env := job.NewEnvelope("send-email", []byte(`{}`), 3)
	env.Attempts = 2
	return env, job.NewContext(env, nil)
}

func recording(name string, calls *[]string) layer.Layer {
	return func(next layer.Handler) layer.Handler {
		return func(ctx context.Context, env *job.Envelope, jc *job.Context) (job.Outcome, error) {
			*calls = append(*calls, name+":before")
			outcome, err := next(ctx, env, jc)
			*calls = append(*calls, name+":after")
			return outcome, err
		}
	}
}

func TestChain_FirstDeclaredIsOutermost(t *testing.T) {
	var calls []string
	terminal := func(context.Context, *job.Envelope, *job.Context) (job.Outcome, error) {
		calls = append(calls, "handler")
		return job.OutcomeAck, nil
	}

	h := layer.Apply(terminal, recording("a", &calls), recording("b", &calls), recording("c", &calls))
	env, jc := newRequest()
	if _, err := h(context.Background(), env, jc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a:before", "b:before", "c:before", "handler", "c:after", "b:after", "a:after"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestChain_Empty(t *testing.T) {
	h := layer.Apply(func(context.Context, *job.Envelope, *job.Context) (job.Outcome, error) {
		return job.OutcomeKill, nil
	})
	env, jc := newRequest()
	if outcome, _ := h(context.Background(), env, jc); outcome != job.OutcomeKill {
		t.Fatalf("outcome = %s", outcome)
	}
}

func TestChain_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	var calls []string
	h := layer.Apply(func(context.Context, *job.Envelope, *job.Context) (job.Outcome, error) {
		return job.OutcomeRetry, want
	}, recording("a", &calls))

	env, jc := newRequest()
	if _, err := h(context.Background(), env, jc); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

type mailer struct{ host string }

func TestAddExtension(t *testing.T) {
	m := &mailer{host: "smtp.local"}
	var seen *mailer
	h := layer.Apply(func(_ context.Context, _ *job.Envelope, jc *job.Context) (job.Outcome, error) {
		seen, _ = job.Get[*mailer](jc)
		return jc.Ack(), nil
	}, layer.AddExtension(m))

	env, jc := newRequest()
	if _, err := h(context.Background(), env, jc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != m {
		t.Fatal("handler did not see the extension")
	}
}
