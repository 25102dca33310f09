package layer_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/layer"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func bufferLogger() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestTrace_CreatesSpanWithAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	_, logger := bufferLogger()
	env, jc := newRequest()

	h := layer.Apply(func(_ context.Context, _ *job.Envelope, jc *job.Context) (job.Outcome, error) {
		return jc.Retry(), nil
	}, layer.TraceWithTracer(logger, tracer))

	if outcome, err := h(context.Background(), env, jc); err != nil || outcome != job.OutcomeRetry {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "conveyor.job.execute" {
		t.Errorf("span name = %q", spans[0].Name())
	}

	expected := map[attribute.Key]attribute.Value{
		"conveyor.job.id":      attribute.StringValue(env.ID.String()),
		"conveyor.job.name":    attribute.StringValue("send-email"),
		"conveyor.job.attempt": attribute.IntValue(2),
		"conveyor.job.outcome": attribute.StringValue("retry"),
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	for k, v := range expected {
		if got[k] != v {
			t.Errorf("attribute %s = %v, want %v", k, got[k].Emit(), v.Emit())
		}
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status().Code)
	}
}

func TestTrace_RecordsFault(t *testing.T) {
	sr, tracer := setupTestTracer()
	buf, logger := bufferLogger()
	want := errors.New("smtp down")
	env, jc := newRequest()

	h := layer.Apply(func(context.Context, *job.Envelope, *job.Context) (job.Outcome, error) {
		return job.OutcomeRetry, want
	}, layer.TraceWithTracer(logger, tracer))

	outcome, err := h(context.Background(), env, jc)
	if !errors.Is(err, want) || outcome != job.OutcomeRetry {
		t.Fatalf("trace altered the result: %s, %v", outcome, err)
	}

	span := sr.Ended()[0]
	if span.Status().Code != codes.Error || span.Status().Description != "smtp down" {
		t.Errorf("status = %+v", span.Status())
	}
	if len(span.Events()) == 0 {
		t.Error("expected a recorded error event")
	}

	logs := buf.String()
	for _, want := range []string{"job started", "job faulted", "job_id=" + env.ID.String(), "outcome=fault"} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %q:\n%s", want, logs)
		}
	}
}

func TestTrace_DoesNotMutateEnvelope(t *testing.T) {
	_, tracer := setupTestTracer()
	_, logger := bufferLogger()
	env, jc := newRequest()
	before := *env

	h := layer.Apply(func(context.Context, *job.Envelope, *job.Context) (job.Outcome, error) {
		return job.OutcomeAck, nil
	}, layer.TraceWithTracer(logger, tracer))
	_, _ = h(context.Background(), env, jc)

	if !env.ID.Equal(before.ID) || env.Attempts != before.Attempts || env.State != before.State {
		t.Fatal("trace layer mutated the envelope")
	}
}
