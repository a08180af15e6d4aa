package tenantrun

import "time"

// Config holds engine-wide defaults. Individual jobs may override the
// lease, retry and concurrency settings through job.Options.
type Config struct {
	// LeaseDuration is how long a run's lock is held before another
	// process may reclaim it.
	LeaseDuration time.Duration

	// RenewInterval is how often a running job extends its lease.
	// Zero disables renewal; the lease must then outlast the run.
	RenewInterval time.Duration

	// MaxAttempts is the default number of attempts per tenant.
	MaxAttempts int

	// InitialInterval, Multiplier and MaxInterval shape the default
	// exponential backoff between tenant attempts.
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration

	// Jitter adds up to Jitter*delay of random time to each backoff.
	Jitter float64

	// MaxParallelism is the default bound for parallel tenant fan-out.
	MaxParallelism int

	// TickInterval is how often the cron trigger checks for due jobs.
	TickInterval time.Duration

	// ShutdownTimeout is the maximum time Stop waits for in-flight runs.
	ShutdownTimeout time.Duration

	// HistoryLimit is the default page size for execution history.
	HistoryLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LeaseDuration:   10 * time.Minute,
		RenewInterval:   0,
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		Multiplier:      2,
		MaxInterval:     1 * time.Minute,
		Jitter:          0,
		MaxParallelism:  4,
		TickInterval:    1 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		HistoryLimit:    20,
	}
}
