package execution

import (
	"context"

	"github.com/xraph/tenantrun/id"
)

// List limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 500
)

// ListOpts filters and bounds ListExecutions.
type ListOpts struct {
	// Limit caps the number of results. Values outside [1, MaxListLimit]
	// are clamped; zero means DefaultListLimit.
	Limit int

	// Status restricts results to one status. Empty matches all.
	Status Status
}

// EffectiveLimit returns the clamped limit stores must apply.
func (o ListOpts) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return o.Limit
	}
}

// Store is the persistence contract for executions.
//
// Writes to one execution come from the single engine instance holding the
// job's lock, so implementations need only per-record atomicity. Reads may
// run concurrently with writes.
type Store interface {
	// CreateExecution persists a new execution.
	CreateExecution(ctx context.Context, e *Execution) error

	// UpdateExecution overwrites an existing execution. Returns
	// tenantrun.ErrExecutionNotFound if it does not exist.
	UpdateExecution(ctx context.Context, e *Execution) error

	// UpdateRunningExecution overwrites e only while the stored execution
	// is still RUNNING and reports whether it did. A run closed by a later
	// lock holder is left as it is. Returns tenantrun.ErrExecutionNotFound
	// if it does not exist.
	UpdateRunningExecution(ctx context.Context, e *Execution) (bool, error)

	// GetExecution returns an execution by ID.
	GetExecution(ctx context.Context, execID id.ExecutionID) (*Execution, error)

	// LatestExecution returns the most recently started execution of a
	// job, or tenantrun.ErrExecutionNotFound.
	LatestExecution(ctx context.Context, jobName string) (*Execution, error)

	// ListExecutions returns executions of a job, most recent first
	// (started_at descending, then ID descending).
	ListExecutions(ctx context.Context, jobName string, opts ListOpts) ([]*Execution, error)

	// CreateTenantExecution persists a new tenant execution.
	CreateTenantExecution(ctx context.Context, te *TenantExecution) error

	// UpdateTenantExecution overwrites an existing tenant execution.
	UpdateTenantExecution(ctx context.Context, te *TenantExecution) error

	// ListTenantExecutions returns every tenant execution of a run in
	// the order they started.
	ListTenantExecutions(ctx context.Context, execID id.ExecutionID) ([]*TenantExecution, error)
}
