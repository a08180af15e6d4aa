package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/tenantrun/backoff"
)

func TestExponential_GrowsByMultiplier(t *testing.T) {
	tests := []struct {
		name    string
		mult    float64
		attempt int
		want    time.Duration
	}{
		{"doubling attempt 1", 2, 1, 1 * time.Second},
		{"doubling attempt 2", 2, 2, 2 * time.Second},
		{"doubling attempt 4", 2, 4, 8 * time.Second},
		{"tripling attempt 3", 3, 3, 9 * time.Second},
		{"one and a half attempt 3", 1.5, 3, 2250 * time.Millisecond},
		{"multiplier 1 is constant", 1, 5, 1 * time.Second},
		{"multiplier below 1 is constant", 0.5, 5, 1 * time.Second},
		{"attempt 0 treated as 1", 2, 0, 1 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := backoff.NewExponential(time.Second, tt.mult, time.Hour)
			if got := e.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 2, 10*time.Second)

	// Attempt 5 = 16s > 10s max.
	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(200); got != 10*time.Second {
		t.Errorf("Delay(200) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestWithJitter_WithinBounds(t *testing.T) {
	base := backoff.NewExponential(time.Second, 2, 10*time.Second)
	j := backoff.WithJitter(base, 0.5)

	for attempt := 1; attempt <= 6; attempt++ {
		lo := base.Delay(attempt)
		hi := lo + lo/2
		for range 100 {
			got := j.Delay(attempt)
			if got < lo || got > hi {
				t.Errorf("Delay(%d) = %v, want within [%v, %v]", attempt, got, lo, hi)
			}
		}
	}
}

func TestWithJitter_ProducesVariance(t *testing.T) {
	j := backoff.WithJitter(backoff.NewExponential(time.Second, 2, time.Minute), 1)

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[j.Delay(3)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got only %d distinct values", len(seen))
	}
}

func TestWithJitter_ZeroFractionIsBase(t *testing.T) {
	base := backoff.NewExponential(time.Second, 2, time.Minute)
	if got := backoff.WithJitter(base, 0); got != backoff.Strategy(base) {
		t.Errorf("WithJitter(base, 0) = %v, want base unchanged", got)
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if got := s.Delay(1); got != time.Second {
		t.Errorf("Delay(1) = %v, want 1s", got)
	}
	if got := s.Delay(10); got != time.Minute {
		t.Errorf("Delay(10) = %v, want 1m", got)
	}
}
