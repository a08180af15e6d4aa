package job

import (
	"time"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/retry"
)

// Concurrency selects how a run fans out over its tenants.
type Concurrency int

const (
	// Sequential processes tenants one after another in provider order.
	Sequential Concurrency = iota
	// Parallel processes tenants concurrently, bounded by MaxParallelism.
	Parallel
)

func (c Concurrency) String() string {
	if c == Parallel {
		return "parallel"
	}
	return "sequential"
}

// RetryWait selects what a tenant does with its parallel slot while it
// waits out a backoff.
type RetryWait int

const (
	// WaitBlocking keeps the slot for the whole backoff.
	WaitBlocking RetryWait = iota
	// WaitReleaseSlot hands the slot to another tenant during the backoff
	// and takes one back before the next attempt.
	WaitReleaseSlot
)

// Options configures a job. Zero values inherit engine defaults.
type Options struct {
	// LeaseDuration is how long the run lock is held before it may be
	// reclaimed by another process.
	LeaseDuration time.Duration

	// Retry overrides the engine's retry policy.
	Retry *retry.Policy

	// MaxAttempts overrides only the attempt bound of the effective
	// retry policy.
	MaxAttempts int

	// Classifier overrides the engine's failure classifier.
	Classifier *retry.Classifier

	// Concurrency selects sequential or parallel fan-out.
	Concurrency Concurrency

	// MaxParallelism bounds parallel fan-out.
	MaxParallelism int

	// RetryWait selects slot handling during backoff in parallel mode.
	RetryWait RetryWait

	// Timeout bounds each tenant attempt. Zero means no limit.
	Timeout time.Duration

	// TenantRate limits tenant starts per second. Zero means unlimited.
	TenantRate float64
}

func (o Options) withDefaults(cfg tenantrun.Config) Options {
	if o.LeaseDuration == 0 {
		o.LeaseDuration = cfg.LeaseDuration
	}
	var p retry.Policy
	if o.Retry != nil {
		p = *o.Retry
	} else {
		p = retry.Policy{
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.InitialInterval,
			Multiplier:      cfg.Multiplier,
			MaxInterval:     cfg.MaxInterval,
			Jitter:          cfg.Jitter,
		}
	}
	if o.MaxAttempts > 0 {
		p.MaxAttempts = o.MaxAttempts
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	o.Retry = &p
	if o.MaxParallelism == 0 {
		o.MaxParallelism = cfg.MaxParallelism
	}
	if o.MaxParallelism < 1 {
		o.MaxParallelism = 1
	}
	return o
}

// Option is a functional option for configuring a job definition.
type Option func(*Definition)

// WithSchedule sets the cron expression that triggers the job.
func WithSchedule(expr string) Option {
	return func(d *Definition) { d.Schedule = expr }
}

// WithLease sets the lock lease duration.
func WithLease(lease time.Duration) Option {
	return func(d *Definition) { d.Opts.LeaseDuration = lease }
}

// WithRetry sets the full retry policy.
func WithRetry(p retry.Policy) Option {
	return func(d *Definition) { d.Opts.Retry = &p }
}

// WithMaxAttempts overrides only the attempt bound, keeping the rest of
// the effective retry policy.
func WithMaxAttempts(n int) Option {
	return func(d *Definition) { d.Opts.MaxAttempts = n }
}

// WithClassifier sets a job-specific failure classifier.
func WithClassifier(c *retry.Classifier) Option {
	return func(d *Definition) { d.Opts.Classifier = c }
}

// WithSequential processes tenants one at a time in provider order.
func WithSequential() Option {
	return func(d *Definition) { d.Opts.Concurrency = Sequential }
}

// WithParallel processes up to n tenants at once.
func WithParallel(n int) Option {
	return func(d *Definition) {
		d.Opts.Concurrency = Parallel
		d.Opts.MaxParallelism = n
	}
}

// WithRetryWait sets slot handling during backoff.
func WithRetryWait(w RetryWait) Option {
	return func(d *Definition) { d.Opts.RetryWait = w }
}

// WithTimeout bounds each tenant attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Definition) { d.Opts.Timeout = timeout }
}

// WithTenantRate limits tenant starts to perSecond.
func WithTenantRate(perSecond float64) Option {
	return func(d *Definition) { d.Opts.TenantRate = perSecond }
}
