// Package ext defines the extension system for tenantrun.
// Extensions are notified of run and tenant lifecycle events and can react
// to them: metrics, alerting, audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. Tenant hooks fire from parallel fan-out
// goroutines, so implementations must be safe for concurrent use.
package ext

import (
	"context"
	"time"

	"github.com/xraph/tenantrun/execution"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called after a run took the job lock and recorded itself
// as RUNNING.
type RunStarted interface {
	OnRunStarted(ctx context.Context, e *execution.Execution) error
}

// RunSkipped is called when a run found the job lock held elsewhere.
type RunSkipped interface {
	OnRunSkipped(ctx context.Context, e *execution.Execution) error
}

// RunCompleted is called after every tenant reached a terminal state and
// the run was finalized as SUCCESS, PARTIAL_FAILURE or FAILED.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, e *execution.Execution, elapsed time.Duration) error
}

// RunFailed is called when a run aborted on an infrastructure failure.
type RunFailed interface {
	OnRunFailed(ctx context.Context, e *execution.Execution, err error) error
}

// ──────────────────────────────────────────────────
// Tenant lifecycle hooks
// ──────────────────────────────────────────────────

// TenantSucceeded is called when a tenant finished successfully.
type TenantSucceeded interface {
	OnTenantSucceeded(ctx context.Context, te *execution.TenantExecution, elapsed time.Duration) error
}

// TenantRetrying is called when a tenant attempt failed and another
// attempt will start after delay.
type TenantRetrying interface {
	OnTenantRetrying(ctx context.Context, te *execution.TenantExecution, err error, delay time.Duration) error
}

// TenantFailed is called when a tenant failed with a non-retryable error.
type TenantFailed interface {
	OnTenantFailed(ctx context.Context, te *execution.TenantExecution, err error) error
}

// TenantRetryExhausted is called when a tenant failed with a retryable
// error on its last allowed attempt.
type TenantRetryExhausted interface {
	OnTenantRetryExhausted(ctx context.Context, te *execution.TenantExecution, err error) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// TriggerFired is called when the cron trigger starts a run.
type TriggerFired interface {
	OnTriggerFired(ctx context.Context, jobName string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
