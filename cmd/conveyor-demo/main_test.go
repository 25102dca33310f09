package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/job"
)

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := conveyor.DefaultConfig()

	st, cleanup, err := openStore(context.Background(), demoConfig{Store: "memory"}, cfg, logger)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	cleanup()
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	_, _, err = openStore(context.Background(), demoConfig{Store: "etcd"}, cfg, logger)
	if !errors.Is(err, conveyor.ErrInvalidConfig) {
		t.Fatalf("unknown store: err = %v, want ErrInvalidConfig", err)
	}
}

func TestSendEmailHandler(t *testing.T) {
	h := sendEmailHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	jc := job.NewContext(job.NewEnvelope("send-email", nil, 1), nil)

	outcome, err := h(context.Background(), jc, email{To: "a@example.com", Subject: "hi"})
	if err != nil || outcome != job.OutcomeAck {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h(ctx, jc, email{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
