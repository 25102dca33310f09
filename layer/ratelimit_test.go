package layer_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/layer"
)

func TestRateLimit_TwoPer100ms(t *testing.T) {
	const (
		permits = 2
		per     = 100 * time.Millisecond
		calls   = 10
		slack   = 15 * time.Millisecond
	)

	var (
		mu    sync.Mutex
		stamp []time.Time
	)
	h := layer.Apply(func(context.Context, *job.Envelope, *job.Context) (job.Outcome, error) {
		mu.Lock()
		stamp = append(stamp, time.Now())
		mu.Unlock()
		return job.OutcomeAck, nil
	}, layer.RateLimit(permits, per))

	var wg sync.WaitGroup
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, jc := newRequest()
			if _, err := h(context.Background(), env, jc); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(stamp) != calls {
		t.Fatalf("completed %d calls, want %d", len(stamp), calls)
	}
	sort.Slice(stamp, func(i, j int) bool { return stamp[i].Before(stamp[j]) })

	// Any permits+1 consecutive calls must span at least one window.
	for i := 0; i+permits < len(stamp); i++ {
		if gap := stamp[i+permits].Sub(stamp[i]); gap < per-slack {
			t.Fatalf("calls %d..%d completed within %s, want >= %s", i, i+permits, gap, per)
		}
	}
}

func TestRateLimit_SharedAcrossPipelines(t *testing.T) {
	limiter := layer.NewRateLimiter(1, 50*time.Millisecond)
	terminal := func(context.Context, *job.Envelope, *job.Context) (job.Outcome, error) {
		return job.OutcomeAck, nil
	}
	a := layer.Apply(terminal, limiter.Layer())
	b := layer.Apply(terminal, limiter.Layer())

	start := time.Now()
	for _, h := range []layer.Handler{a, b, a, b} {
		env, jc := newRequest()
		if _, err := h(context.Background(), env, jc); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Fatalf("4 calls through a shared 1/50ms limiter took %s", elapsed)
	}
}

func TestRateLimit_WaitHonorsContext(t *testing.T) {
	limiter := layer.NewRateLimiter(1, time.Hour)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first permit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	h := layer.Apply(func(context.Context, *job.Envelope, *job.Context) (job.Outcome, error) {
		called = true
		return job.OutcomeAck, nil
	}, limiter.Layer())

	env, jc := newRequest()
	_, err := h(ctx, env, jc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Fatal("handler ran without a permit")
	}
}

func TestRateLimit_SubNanosecondIntervalStaysFinite(t *testing.T) {
	tests := []struct {
		name    string
		permits int
		per     time.Duration
		want    rate.Limit
	}{
		{"interval below 1ns", 1000, 500 * time.Nanosecond, 2e9},
		{"zero window", 4, 0, 4e9},
		{"negative window", 1, -time.Second, 1e9},
		{"ten per 10ms", 10, 10 * time.Millisecond, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := layer.NewRateLimiter(tt.permits, tt.per).Limit()
			if got == rate.Inf {
				t.Fatal("limit = Inf, limiter disabled")
			}
			if diff := float64(got - tt.want); diff > 1e-6*float64(tt.want) || diff < -1e-6*float64(tt.want) {
				t.Fatalf("limit = %v, want %v", got, tt.want)
			}
		})
	}
}
