package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
	"github.com/xraph/tenantrun/lock"
)

// ── Lock model ────────────────────────────────────────────────────

type lockModel struct {
	bun.BaseModel `bun:"table:tenantrun_locks"`

	JobName    string    `bun:"job_name,pk"`
	HolderID   string    `bun:"holder_id,notnull"`
	AcquiredAt time.Time `bun:"acquired_at,notnull"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
}

func fromLockModel(m *lockModel) *lock.Lock {
	return &lock.Lock{
		JobName:    m.JobName,
		HolderID:   m.HolderID,
		AcquiredAt: m.AcquiredAt.UTC(),
		ExpiresAt:  m.ExpiresAt.UTC(),
	}
}

// ── Execution model ───────────────────────────────────────────────

type executionModel struct {
	bun.BaseModel `bun:"table:tenantrun_executions"`

	ID           string     `bun:"id,pk"`
	JobName      string     `bun:"job_name,notnull"`
	HolderID     string     `bun:"holder_id,notnull"`
	Status       string     `bun:"status,notnull"`
	TotalTenants int        `bun:"total_tenants,notnull"`
	SuccessCount int        `bun:"success_count,notnull"`
	FailedCount  int        `bun:"failed_count,notnull"`
	Error        string     `bun:"error,notnull"`
	StartedAt    time.Time  `bun:"started_at,notnull"`
	FinishedAt   *time.Time `bun:"finished_at"`
}

func toExecutionModel(e *execution.Execution) *executionModel {
	return &executionModel{
		ID:           e.ID.String(),
		JobName:      e.JobName,
		HolderID:     e.HolderID,
		Status:       string(e.Status),
		TotalTenants: e.TotalTenants,
		SuccessCount: e.SuccessCount,
		FailedCount:  e.FailedCount,
		Error:        e.Error,
		StartedAt:    e.StartedAt.UTC(),
		FinishedAt:   utcPtr(e.FinishedAt),
	}
}

func fromExecutionModel(m *executionModel) (*execution.Execution, error) {
	parsedID, err := id.ParseExecutionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/bun: parse execution id %q: %w", m.ID, err)
	}
	return &execution.Execution{
		ID:           parsedID,
		JobName:      m.JobName,
		HolderID:     m.HolderID,
		Status:       execution.Status(m.Status),
		TotalTenants: m.TotalTenants,
		SuccessCount: m.SuccessCount,
		FailedCount:  m.FailedCount,
		Error:        m.Error,
		StartedAt:    m.StartedAt.UTC(),
		FinishedAt:   utcPtr(m.FinishedAt),
	}, nil
}

// ── Tenant execution model ────────────────────────────────────────

type tenantModel struct {
	bun.BaseModel `bun:"table:tenantrun_tenant_executions"`

	Seq          int64      `bun:"seq,scanonly"`
	ID           string     `bun:"id,pk"`
	ExecutionID  string     `bun:"execution_id,notnull"`
	JobName      string     `bun:"job_name,notnull"`
	TenantID     string     `bun:"tenant_id,notnull"`
	Status       string     `bun:"status,notnull"`
	AttemptCount int        `bun:"attempt_count,notnull"`
	ErrorKind    string     `bun:"error_kind,notnull"`
	Error        string     `bun:"error,notnull"`
	StartedAt    time.Time  `bun:"started_at,notnull"`
	FinishedAt   *time.Time `bun:"finished_at"`
}

func toTenantModel(te *execution.TenantExecution) *tenantModel {
	return &tenantModel{
		ID:           te.ID.String(),
		ExecutionID:  te.ExecutionID.String(),
		JobName:      te.JobName,
		TenantID:     te.TenantID,
		Status:       string(te.Status),
		AttemptCount: te.AttemptCount,
		ErrorKind:    te.ErrorKind,
		Error:        te.Error,
		StartedAt:    te.StartedAt.UTC(),
		FinishedAt:   utcPtr(te.FinishedAt),
	}
}

func fromTenantModel(m *tenantModel) (*execution.TenantExecution, error) {
	parsedID, err := id.ParseTenantExecutionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/bun: parse tenant execution id %q: %w", m.ID, err)
	}
	execID, err := id.ParseExecutionID(m.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/bun: parse execution id %q: %w", m.ExecutionID, err)
	}
	return &execution.TenantExecution{
		ID:           parsedID,
		ExecutionID:  execID,
		JobName:      m.JobName,
		TenantID:     m.TenantID,
		Status:       execution.TenantStatus(m.Status),
		AttemptCount: m.AttemptCount,
		ErrorKind:    m.ErrorKind,
		Error:        m.Error,
		StartedAt:    m.StartedAt.UTC(),
		FinishedAt:   utcPtr(m.FinishedAt),
	}, nil
}
