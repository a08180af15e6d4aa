package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
)

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	if _, err := s.db.NewInsert().Model(toExecutionModel(e)).Exec(ctx); err != nil {
		return fmt.Errorf("tenantrun/bun: create execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites an existing execution.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	res, err := s.db.NewUpdate().
		Model(toExecutionModel(e)).
		Column("status", "total_tenants", "success_count", "failed_count", "error", "finished_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tenantrun/bun: update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenantrun.ErrExecutionNotFound
	}
	return nil
}

// UpdateRunningExecution overwrites e while the stored row is RUNNING.
func (s *Store) UpdateRunningExecution(ctx context.Context, e *execution.Execution) (bool, error) {
	res, err := s.db.NewUpdate().
		Model(toExecutionModel(e)).
		Column("status", "total_tenants", "success_count", "failed_count", "error", "finished_at").
		WherePK().
		Where("status = ?", string(execution.StatusRunning)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tenantrun/bun: update running execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	exists, err := s.db.NewSelect().
		Model((*executionModel)(nil)).
		Where("id = ?", e.ID.String()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("tenantrun/bun: update running execution: %w", err)
	}
	if !exists {
		return false, tenantrun.ErrExecutionNotFound
	}
	return false, nil
}

// GetExecution returns an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	m := new(executionModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", execID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tenantrun.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("tenantrun/bun: get execution: %w", err)
	}
	return fromExecutionModel(m)
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
	var models []executionModel
	q := s.db.NewSelect().Model(&models).
		Where("job_name = ?", jobName).
		OrderExpr("started_at DESC, id DESC").
		Limit(opts.EffectiveLimit())
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tenantrun/bun: list executions: %w", err)
	}

	out := make([]*execution.Execution, 0, len(models))
	for i := range models {
		e, err := fromExecutionModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CreateTenantExecution persists a new tenant execution.
func (s *Store) CreateTenantExecution(ctx context.Context, te *execution.TenantExecution) error {
	if _, err := s.db.NewInsert().Model(toTenantModel(te)).Exec(ctx); err != nil {
		return fmt.Errorf("tenantrun/bun: create tenant execution: %w", err)
	}
	return nil
}

// UpdateTenantExecution overwrites an existing tenant execution.
func (s *Store) UpdateTenantExecution(ctx context.Context, te *execution.TenantExecution) error {
	res, err := s.db.NewUpdate().
		Model(toTenantModel(te)).
		Column("status", "attempt_count", "error_kind", "error", "finished_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tenantrun/bun: update tenant execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenantrun.ErrExecutionNotFound
	}
	return nil
}

// ListTenantExecutions returns every tenant execution of a run in the
// order they were created.
func (s *Store) ListTenantExecutions(ctx context.Context, execID id.ExecutionID) ([]*execution.TenantExecution, error) {
	var models []tenantModel
	err := s.db.NewSelect().Model(&models).
		Where("execution_id = ?", execID.String()).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tenantrun/bun: list tenant executions: %w", err)
	}

	out := make([]*execution.TenantExecution, 0, len(models))
	for i := range models {
		te, err := fromTenantModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, te)
	}
	return out, nil
}
