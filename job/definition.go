package job

import (
	"context"
	"fmt"

	"github.com/xraph/tenantrun"
)

// HandlerFunc is the business callback invoked once per tenant attempt.
// ctx carries the tenant scope set up by the engine's tenant.Bridge.
// Return a retry.Failure or retry.Wrap error to tag the failure's kind.
type HandlerFunc func(ctx context.Context, tenantID string) error

// Definition is a recurring job.
type Definition struct {
	// Name is the unique identifier for this job.
	Name string

	// Schedule is a cron expression. Empty means the job only runs when
	// triggered directly.
	Schedule string

	// Handler processes one tenant.
	Handler HandlerFunc

	// Opts configures locking, retries and fan-out.
	Opts Options
}

// NewDefinition creates a job definition.
func NewDefinition(name string, handler HandlerFunc, opts ...Option) *Definition {
	def := &Definition{Name: name, Handler: handler}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

// Validate reports definitions that cannot run.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil definition", tenantrun.ErrInvalidJob)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", tenantrun.ErrInvalidJob)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: job %q has no handler", tenantrun.ErrInvalidJob, d.Name)
	}
	if d.Opts.LeaseDuration < 0 {
		return fmt.Errorf("%w: job %q has negative lease", tenantrun.ErrInvalidJob, d.Name)
	}
	if d.Opts.MaxParallelism < 0 {
		return fmt.Errorf("%w: job %q has negative parallelism", tenantrun.ErrInvalidJob, d.Name)
	}
	if d.Opts.Retry != nil {
		if err := d.Opts.Retry.Validate(); err != nil {
			return fmt.Errorf("%w: job %q: %w", tenantrun.ErrInvalidJob, d.Name, err)
		}
	}
	return nil
}

// withDefaults returns a copy of d with zero options filled from cfg.
func (d *Definition) withDefaults(cfg tenantrun.Config) *Definition {
	cp := *d
	cp.Opts = d.Opts.withDefaults(cfg)
	return &cp
}
