// Package execution records runs and their per-tenant outcomes.
//
// An Execution is one triggered run of a job. A TenantExecution is one
// tenant's outcome within it. The Store persists both; the Manager wraps
// it with the timestamping and status arithmetic the engine needs, and
// with the read queries operators use.
package execution

import (
	"time"

	"github.com/xraph/tenantrun/id"
)

// Status is the state of an Execution.
type Status string

const (
	StatusRunning        Status = "running"
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
)

// IsTerminal reports whether an execution in this status is final.
func (s Status) IsTerminal() bool {
	return s != StatusRunning
}

// TenantStatus is the state of a TenantExecution.
type TenantStatus string

const (
	TenantRunning TenantStatus = "running"
	TenantSuccess TenantStatus = "success"
	TenantFailed  TenantStatus = "failed"
)

// IsTerminal reports whether a tenant in this status is final.
func (s TenantStatus) IsTerminal() bool {
	return s == TenantSuccess || s == TenantFailed
}

// UnknownTotal marks an Execution whose tenant list has not been fetched.
const UnknownTotal = -1

// Execution is one run of a job.
type Execution struct {
	ID           id.ExecutionID `json:"id"                    msgpack:"id"`
	JobName      string         `json:"job_name"              msgpack:"job_name"`
	HolderID     string         `json:"holder_id"             msgpack:"holder_id"`
	Status       Status         `json:"status"                msgpack:"status"`
	TotalTenants int            `json:"total_tenants"         msgpack:"total_tenants"`
	SuccessCount int            `json:"success_count"         msgpack:"success_count"`
	FailedCount  int            `json:"failed_count"          msgpack:"failed_count"`
	Error        string         `json:"error,omitempty"       msgpack:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"            msgpack:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty" msgpack:"finished_at,omitempty"`
}

// TenantExecution is one tenant's outcome within an Execution.
type TenantExecution struct {
	ID           id.TenantExecutionID `json:"id"                    msgpack:"id"`
	ExecutionID  id.ExecutionID       `json:"execution_id"          msgpack:"execution_id"`
	JobName      string               `json:"job_name"              msgpack:"job_name"`
	TenantID     string               `json:"tenant_id"             msgpack:"tenant_id"`
	Status       TenantStatus         `json:"status"                msgpack:"status"`
	AttemptCount int                  `json:"attempt_count"         msgpack:"attempt_count"`
	ErrorKind    string               `json:"error_kind,omitempty"  msgpack:"error_kind,omitempty"`
	Error        string               `json:"error,omitempty"       msgpack:"error,omitempty"`
	StartedAt    time.Time            `json:"started_at"            msgpack:"started_at"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty" msgpack:"finished_at,omitempty"`
}

// Aggregate computes the final status from tenant counts. No failures is
// SUCCESS (including zero tenants); no successes out of at least one
// tenant is FAILED; anything else is PARTIAL_FAILURE.
func Aggregate(total, success, failed int) Status {
	switch {
	case failed == 0:
		return StatusSuccess
	case success == 0 && total > 0:
		return StatusFailed
	default:
		return StatusPartialFailure
	}
}

// FailureRate returns failed/total, or 0 for an empty run.
func (e *Execution) FailureRate() float64 {
	if e.TotalTenants <= 0 {
		return 0
	}
	return float64(e.FailedCount) / float64(e.TotalTenants)
}

// Duration returns how long the run took, or 0 while it is running.
func (e *Execution) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
