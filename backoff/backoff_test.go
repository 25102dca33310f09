package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/conveyor/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestLinear_GrowsLinearly(t *testing.T) {
	l := backoff.NewLinear(time.Second, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{5, 5 * time.Second},
		{100, time.Minute},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v", got, 10*time.Second)
	}
	if got := e.Delay(20); got != 10*time.Second {
		t.Errorf("Delay(20) = %v, want %v", got, 10*time.Second)
	}
}

func TestExponential_NoOverflowWithoutCap(t *testing.T) {
	e := backoff.NewExponential(time.Second, 0)
	if got := e.Delay(500); got <= 0 {
		t.Fatalf("Delay(500) = %v, want positive", got)
	}
}

func TestStrategies_Monotonic(t *testing.T) {
	strategies := map[string]backoff.Strategy{
		"constant":    backoff.NewConstant(time.Second),
		"linear":      backoff.NewLinear(time.Second, time.Minute),
		"exponential": backoff.NewExponential(100*time.Millisecond, time.Minute),
		"uncapped":    backoff.NewExponential(time.Second, 0),
		"default":     backoff.DefaultStrategy(),
	}

	for name, s := range strategies {
		t.Run(name, func(t *testing.T) {
			prev := s.Delay(1)
			for attempt := 2; attempt <= 200; attempt++ {
				got := s.Delay(attempt)
				if got < prev {
					t.Fatalf("Delay(%d) = %v < Delay(%d) = %v", attempt, got, attempt-1, prev)
				}
				prev = got
			}
		})
	}
}

func TestFunc(t *testing.T) {
	s := backoff.Func(func(attempt int) time.Duration { return time.Duration(attempt) * time.Millisecond })
	if got := s.Delay(3); got != 3*time.Millisecond {
		t.Fatalf("Delay(3) = %v", got)
	}
}
