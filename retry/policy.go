package retry

import (
	"fmt"
	"time"

	"github.com/xraph/tenantrun/backoff"
)

// Policy bounds the attempts for one tenant and shapes the backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the wait after the first failed attempt.
	InitialInterval time.Duration

	// Multiplier grows the wait for each further attempt. It must be at
	// least 1; 1 keeps the wait constant.
	Multiplier float64

	// MaxInterval caps the wait.
	MaxInterval time.Duration

	// Jitter adds up to Jitter*delay of random time. Zero disables it.
	Jitter float64
}

// DefaultPolicy returns three attempts with 1s, 2s waits capped at 1m.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     time.Minute,
	}
}

// Validate reports a policy that cannot run.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.InitialInterval < 0 || p.MaxInterval < 0 {
		return fmt.Errorf("retry: intervals must not be negative")
	}
	if p.Jitter < 0 {
		return fmt.Errorf("retry: jitter must not be negative, got %v", p.Jitter)
	}
	return nil
}

// Strategy returns the backoff strategy described by p.
func (p Policy) Strategy() backoff.Strategy {
	return backoff.WithJitter(
		backoff.NewExponential(p.InitialInterval, p.Multiplier, p.MaxInterval),
		p.Jitter,
	)
}

// Delay returns the wait after failed attempt n.
func (p Policy) Delay(attempt int) time.Duration {
	return p.Strategy().Delay(attempt)
}
