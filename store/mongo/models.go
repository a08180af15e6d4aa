package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
	"github.com/xraph/tenantrun/lock"
)

// ── Lock model ────────────────────────────────────────────────────

type lockModel struct {
	JobName    string    `bson:"_id"`
	HolderID   string    `bson:"holder_id"`
	AcquiredAt time.Time `bson:"acquired_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
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
	ID           string     `bson:"_id"`
	JobName      string     `bson:"job_name"`
	HolderID     string     `bson:"holder_id"`
	Status       string     `bson:"status"`
	TotalTenants int        `bson:"total_tenants"`
	SuccessCount int        `bson:"success_count"`
	FailedCount  int        `bson:"failed_count"`
	Error        string     `bson:"error"`
	StartedAt    time.Time  `bson:"started_at"`
	FinishedAt   *time.Time `bson:"finished_at,omitempty"`
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
		return nil, fmt.Errorf("tenantrun/mongo: parse execution id %q: %w", m.ID, err)
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
	ID           string     `bson:"_id"`
	Seq          int64      `bson:"seq"`
	ExecutionID  string     `bson:"execution_id"`
	JobName      string     `bson:"job_name"`
	TenantID     string     `bson:"tenant_id"`
	Status       string     `bson:"status"`
	AttemptCount int        `bson:"attempt_count"`
	ErrorKind    string     `bson:"error_kind"`
	Error        string     `bson:"error"`
	StartedAt    time.Time  `bson:"started_at"`
	FinishedAt   *time.Time `bson:"finished_at,omitempty"`
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
		return nil, fmt.Errorf("tenantrun/mongo: parse tenant execution id %q: %w", m.ID, err)
	}
	execID, err := id.ParseExecutionID(m.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/mongo: parse execution id %q: %w", m.ExecutionID, err)
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

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
