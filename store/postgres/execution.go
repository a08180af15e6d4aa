package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
)

const executionColumns = `id, job_name, holder_id, status, total_tenants,
	success_count, failed_count, error, started_at, finished_at`

const tenantColumns = `id, execution_id, job_name, tenant_id, status,
	attempt_count, error_kind, error, started_at, finished_at`

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenantrun_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID.String(), e.JobName, e.HolderID, string(e.Status), e.TotalTenants,
		e.SuccessCount, e.FailedCount, e.Error, e.StartedAt.UTC(), utcPtr(e.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("tenantrun/postgres: create execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites an existing execution.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenantrun_executions SET
			status = $2, total_tenants = $3, success_count = $4,
			failed_count = $5, error = $6, finished_at = $7
		WHERE id = $1`,
		e.ID.String(), string(e.Status), e.TotalTenants, e.SuccessCount,
		e.FailedCount, e.Error, utcPtr(e.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("tenantrun/postgres: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenantrun.ErrExecutionNotFound
	}
	return nil
}

// UpdateRunningExecution overwrites e while the stored row is RUNNING.
func (s *Store) UpdateRunningExecution(ctx context.Context, e *execution.Execution) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenantrun_executions SET
			status = $2, total_tenants = $3, success_count = $4,
			failed_count = $5, error = $6, finished_at = $7
		WHERE id = $1 AND status = 'running'`,
		e.ID.String(), string(e.Status), e.TotalTenants, e.SuccessCount,
		e.FailedCount, e.Error, utcPtr(e.FinishedAt),
	)
	if err != nil {
		return false, fmt.Errorf("tenantrun/postgres: update running execution: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Either closed already or missing.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenantrun_executions WHERE id = $1)`,
		e.ID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("tenantrun/postgres: update running execution: %w", err)
	}
	if !exists {
		return false, tenantrun.ErrExecutionNotFound
	}
	return false, nil
}

// GetExecution returns an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM tenantrun_executions WHERE id = $1`,
		execID.String(),
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tenantrun.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("tenantrun/postgres: get execution: %w", err)
	}
	return e, nil
}

// LatestExecution returns the most recently started execution of a job.
func (s *Store) LatestExecution(ctx context.Context, jobName string) (*execution.Execution, error) {
	list, err := s.ListExecutions(ctx, jobName, execution.ListOpts{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, tenantrun.ErrExecutionNotFound
	}
	return list[0], nil
}

// ListExecutions returns executions of a job, most recent first.
func (s *Store) ListExecutions(ctx context.Context, jobName string, opts execution.ListOpts) ([]*execution.Execution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM tenantrun_executions
		WHERE job_name = $1 AND ($2 = '' OR status = $2)
		ORDER BY started_at DESC, id DESC
		LIMIT $3`,
		jobName, string(opts.Status), opts.EffectiveLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []*execution.Execution
	for rows.Next() {
		e, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("tenantrun/postgres: scan execution: %w", scanErr)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenantrun/postgres: list executions: %w", err)
	}
	return out, nil
}

// CreateTenantExecution persists a new tenant execution.
func (s *Store) CreateTenantExecution(ctx context.Context, te *execution.TenantExecution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenantrun_tenant_executions (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		te.ID.String(), te.ExecutionID.String(), te.JobName, te.TenantID, string(te.Status),
		te.AttemptCount, te.ErrorKind, te.Error, te.StartedAt.UTC(), utcPtr(te.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("tenantrun/postgres: create tenant execution: %w", err)
	}
	return nil
}

// UpdateTenantExecution overwrites an existing tenant execution.
func (s *Store) UpdateTenantExecution(ctx context.Context, te *execution.TenantExecution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenantrun_tenant_executions SET
			status = $2, attempt_count = $3, error_kind = $4, error = $5, finished_at = $6
		WHERE id = $1`,
		te.ID.String(), string(te.Status), te.AttemptCount, te.ErrorKind, te.Error, utcPtr(te.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("tenantrun/postgres: update tenant execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenantrun.ErrExecutionNotFound
	}
	return nil
}

// ListTenantExecutions returns every tenant execution of a run in the
// order they were created.
func (s *Store) ListTenantExecutions(ctx context.Context, execID id.ExecutionID) ([]*execution.TenantExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenantrun_tenant_executions
		WHERE execution_id = $1
		ORDER BY seq ASC`,
		execID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/postgres: list tenant executions: %w", err)
	}
	defer rows.Close()

	out := []*execution.TenantExecution{}
	for rows.Next() {
		te, scanErr := scanTenant(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("tenantrun/postgres: scan tenant execution: %w", scanErr)
		}
		out = append(out, te)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenantrun/postgres: list tenant executions: %w", err)
	}
	return out, nil
}

func scanExecution(row pgx.Row) (*execution.Execution, error) {
	var (
		e        execution.Execution
		rawID    string
		status   string
		finished *time.Time
	)
	if err := row.Scan(&rawID, &e.JobName, &e.HolderID, &status, &e.TotalTenants,
		&e.SuccessCount, &e.FailedCount, &e.Error, &e.StartedAt, &finished); err != nil {
		return nil, err
	}
	parsed, err := id.ParseExecutionID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse execution id %q: %w", rawID, err)
	}
	e.ID = parsed
	e.Status = execution.Status(status)
	e.StartedAt = e.StartedAt.UTC()
	e.FinishedAt = utcPtr(finished)
	return &e, nil
}

func scanTenant(row pgx.Row) (*execution.TenantExecution, error) {
	var (
		te       execution.TenantExecution
		rawID    string
		rawExec  string
		status   string
		finished *time.Time
	)
	if err := row.Scan(&rawID, &rawExec, &te.JobName, &te.TenantID, &status,
		&te.AttemptCount, &te.ErrorKind, &te.Error, &te.StartedAt, &finished); err != nil {
		return nil, err
	}
	parsed, err := id.ParseTenantExecutionID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse tenant execution id %q: %w", rawID, err)
	}
	execID, err := id.ParseExecutionID(rawExec)
	if err != nil {
		return nil, fmt.Errorf("parse execution id %q: %w", rawExec, err)
	}
	te.ID = parsed
	te.ExecutionID = execID
	te.Status = execution.TenantStatus(status)
	te.StartedAt = te.StartedAt.UTC()
	te.FinishedAt = utcPtr(finished)
	return &te, nil
}
