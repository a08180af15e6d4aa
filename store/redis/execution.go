package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
)

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 10

// CreateExecution stores the execution and indexes it in the job's history.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("tenantrun/redis: encode execution: %w", err)
	}

	execID := e.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.execution(execID), data, 0)
	pipe.ZAdd(ctx, s.keys.history(e.JobName), goredis.Z{
		Score:  float64(e.StartedAt.UnixMilli()),
		Member: execID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenantrun/redis: create execution: %w", err)
	}
	return nil
}

// UpdateExecution overwrites an existing execution.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("tenantrun/redis: encode execution: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.keys.execution(e.ID.String()), data, goredis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("tenantrun/redis: update execution: %w", err)
	}
	if !ok {
		return tenantrun.ErrExecutionNotFound
	}
	return nil
}

// UpdateRunningExecution overwrites e while the stored execution is
// RUNNING. The read and the write run in one WATCH transaction; a
// concurrent write to the key aborts it and it is retried.
func (s *Store) UpdateRunningExecution(ctx context.Context, e *execution.Execution) (bool, error) {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("tenantrun/redis: encode execution: %w", err)
	}
	key := s.keys.execution(e.ID.String())

	for range maxTxRetries {
		written := false
		err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
			cur, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var stored execution.Execution
			if err := msgpack.Unmarshal(cur, &stored); err != nil {
				return fmt.Errorf("decode execution %s: %w", e.ID, err)
			}
			if stored.Status != execution.StatusRunning {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, goredis.KeepTTL)
				return nil
			})
			if err == nil {
				written = true
			}
			return err
		}, key)
		switch {
		case err == nil:
			return written, nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, goredis.Nil):
			return false, tenantrun.ErrExecutionNotFound
		default:
			return false, fmt.Errorf("tenantrun/redis: update running execution: %w", err)
		}
	}
	return false, fmt.Errorf("tenantrun/redis: update running execution %s: too much contention", e.ID)
}

// GetExecution returns an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	return s.getExecution(ctx, execID.String())
}

func (s *Store) getExecution(ctx context.Context, execID string) (*execution.Execution, error) {
	data, err := s.client.Get(ctx, s.keys.execution(execID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, tenantrun.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("tenantrun/redis: get execution: %w", err)
	}
	e := new(execution.Execution)
	if err := msgpack.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("tenantrun/redis: decode execution %s: %w", execID, err)
	}
	e.StartedAt = e.StartedAt.UTC()
	e.FinishedAt = utcPtr(e.FinishedAt)
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

// ListExecutions walks the job's history newest first. Equal scores are
// returned in descending member order, which matches ID descending. A
// status filter is applied while walking, one page at a time.
func (s *Store) ListExecutions(ctx context.Context, jobName string, opts execution.ListOpts) ([]*execution.Execution, error) {
	limit := opts.EffectiveLimit()
	out := make([]*execution.Execution, 0, limit)

	for start := int64(0); len(out) < limit; start += int64(limit) {
		ids, err := s.client.ZRevRange(ctx, s.keys.history(jobName), start, start+int64(limit)-1).Result()
		if err != nil {
			return nil, fmt.Errorf("tenantrun/redis: list executions: %w", err)
		}
		for _, execID := range ids {
			e, err := s.getExecution(ctx, execID)
			if errors.Is(err, tenantrun.ErrExecutionNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if opts.Status != "" && e.Status != opts.Status {
				continue
			}
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
		if len(ids) < limit {
			break
		}
	}
	return out, nil
}

// CreateTenantExecution stores the tenant execution and appends it to the
// run's tenant list.
func (s *Store) CreateTenantExecution(ctx context.Context, te *execution.TenantExecution) error {
	data, err := msgpack.Marshal(te)
	if err != nil {
		return fmt.Errorf("tenantrun/redis: encode tenant execution: %w", err)
	}

	teID := te.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.tenant(teID), data, 0)
	pipe.RPush(ctx, s.keys.tenants(te.ExecutionID.String()), teID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tenantrun/redis: create tenant execution: %w", err)
	}
	return nil
}

// UpdateTenantExecution overwrites an existing tenant execution.
func (s *Store) UpdateTenantExecution(ctx context.Context, te *execution.TenantExecution) error {
	data, err := msgpack.Marshal(te)
	if err != nil {
		return fmt.Errorf("tenantrun/redis: encode tenant execution: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.keys.tenant(te.ID.String()), data, goredis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("tenantrun/redis: update tenant execution: %w", err)
	}
	if !ok {
		return tenantrun.ErrExecutionNotFound
	}
	return nil
}

// ListTenantExecutions returns every tenant execution of a run in the
// order they were created.
func (s *Store) ListTenantExecutions(ctx context.Context, execID id.ExecutionID) ([]*execution.TenantExecution, error) {
	ids, err := s.client.LRange(ctx, s.keys.tenants(execID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantrun/redis: list tenant executions: %w", err)
	}
	out := make([]*execution.TenantExecution, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	teKeys := make([]string, len(ids))
	for i, teID := range ids {
		teKeys[i] = s.keys.tenant(teID)
	}
	vals, err := s.client.MGet(ctx, teKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("tenantrun/redis: list tenant executions: %w", err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		te := new(execution.TenantExecution)
		if err := msgpack.Unmarshal([]byte(raw), te); err != nil {
			return nil, fmt.Errorf("tenantrun/redis: decode tenant execution %s: %w", ids[i], err)
		}
		te.StartedAt = te.StartedAt.UTC()
		te.FinishedAt = utcPtr(te.FinishedAt)
		out = append(out, te)
	}
	return out, nil
}
