// Package backoff computes the wait between tenant attempts.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed)
	// before attempt n+1 starts.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay geometrically.
// Delay = min(Initial * Multiplier^(attempt-1), Max).
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewExponential creates an exponential backoff strategy. A multiplier
// below 1 is treated as 1 (constant delay).
func NewExponential(initial time.Duration, multiplier float64, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Multiplier: multiplier, Max: maxDelay}
}

// Delay returns Initial * Multiplier^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := e.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(e.Initial) * math.Pow(mult, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	// Guard against float overflow when Max is unset.
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Jittered
// ──────────────────────────────────────────────────

// Jittered adds a random amount in [0, Fraction*d] to the delay d of its
// base strategy, so tenants failing together do not retry in lockstep.
type Jittered struct {
	Base     Strategy
	Fraction float64
}

// WithJitter wraps base with additive jitter. A fraction <= 0 returns base
// unchanged.
func WithJitter(base Strategy, fraction float64) Strategy {
	if fraction <= 0 {
		return base
	}
	return &Jittered{Base: base, Fraction: fraction}
}

// Delay returns the base delay plus up to Fraction of it.
func (j *Jittered) Delay(attempt int) time.Duration {
	d := j.Base.Delay(attempt)
	if d <= 0 {
		return d
	}
	extra := rand.Float64() * j.Fraction * float64(d) //nolint:gosec // jitter intentionally uses non-crypto rand
	return d + time.Duration(extra)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff: 1s initial, doubling,
// capped at 1m, no jitter.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 2, 1*time.Minute)
}
