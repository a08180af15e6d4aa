// Package memory provides an in-memory store.Store. Safe for concurrent
// access. Intended for unit testing, development and single-process
// deployments where run history need not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
	"github.com/xraph/tenantrun/lock"
)

// Ensure Store implements each subsystem store at compile time.
// We can't import store here (import cycle with tests), so we verify each.
var (
	_ lock.Store      = (*Store)(nil)
	_ execution.Store = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for lock expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	executions map[string]*execution.Execution
	tenants    map[string]*execution.TenantExecution
	// tenantsByExec keeps tenant execution IDs in creation order.
	tenantsByExec map[string][]string
	locks         map[string]*lock.Lock

	now func() time.Time
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		executions:    make(map[string]*execution.Execution),
		tenants:       make(map[string]*execution.TenantExecution),
		tenantsByExec: make(map[string][]string),
		locks:         make(map[string]*lock.Lock),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Lock Store
// ──────────────────────────────────────────────────

// AcquireLock takes the lock if it is free or expired.
func (m *Store) AcquireLock(_ context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.locks[jobName]; ok && !l.Expired(now) {
		return false, nil
	}
	m.locks[jobName] = &lock.Lock{
		JobName:    jobName,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(lease),
	}
	return true, nil
}

// RenewLock extends the lease if holderID still holds it.
func (m *Store) RenewLock(_ context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[jobName]
	if !ok || l.HolderID != holderID {
		return false, nil
	}
	l.ExpiresAt = m.now().Add(lease)
	return true, nil
}

// ReleaseLock deletes the lock if holderID holds it.
func (m *Store) ReleaseLock(_ context.Context, jobName, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.locks[jobName]; ok && l.HolderID == holderID {
		delete(m.locks, jobName)
	}
	return nil
}

// GetLock returns the live lock for jobName.
func (m *Store) GetLock(_ context.Context, jobName string) (*lock.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.locks[jobName]
	if !ok || l.Expired(m.now()) {
		return nil, tenantrun.ErrLockNotFound
	}
	cp := *l
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Execution Store
// ──────────────────────────────────────────────────

// CreateExecution persists a new execution.
func (m *Store) CreateExecution(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions[e.ID.String()] = copyExecution(e)
	return nil
}

// UpdateExecution overwrites an existing execution.
func (m *Store) UpdateExecution(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, ok := m.executions[key]; !ok {
		return tenantrun.ErrExecutionNotFound
	}
	m.executions[key] = copyExecution(e)
	return nil
}

// UpdateRunningExecution overwrites e while the stored copy is RUNNING.
func (m *Store) UpdateRunningExecution(_ context.Context, e *execution.Execution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	cur, ok := m.executions[key]
	if !ok {
		return false, tenantrun.ErrExecutionNotFound
	}
	if cur.Status != execution.StatusRunning {
		return false, nil
	}
	m.executions[key] = copyExecution(e)
	return true, nil
}

// GetExecution returns an execution by ID.
func (m *Store) GetExecution(_ context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[execID.String()]
	if !ok {
		return nil, tenantrun.ErrExecutionNotFound
	}
	return copyExecution(e), nil
}

// LatestExecution returns the most recently started execution of a job.
func (m *Store) LatestExecution(ctx context.Context, jobName string) (*execution.Execution, error) {
	list, err := m.ListExecutions(ctx, jobName, execution.ListOpts{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, tenantrun.ErrExecutionNotFound
	}
	return list[0], nil
}

// ListExecutions returns executions of a job, most recent first.
func (m *Store) ListExecutions(_ context.Context, jobName string, opts execution.ListOpts) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*execution.Execution
	for _, e := range m.executions {
		if e.JobName != jobName {
			continue
		}
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		out = append(out, copyExecution(e))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[j].ID.Less(out[i].ID)
	})

	if limit := opts.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Tenant Execution Store
// ──────────────────────────────────────────────────

// CreateTenantExecution persists a new tenant execution.
func (m *Store) CreateTenantExecution(_ context.Context, te *execution.TenantExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := te.ID.String()
	m.tenants[key] = copyTenant(te)
	execKey := te.ExecutionID.String()
	m.tenantsByExec[execKey] = append(m.tenantsByExec[execKey], key)
	return nil
}

// UpdateTenantExecution overwrites an existing tenant execution.
func (m *Store) UpdateTenantExecution(_ context.Context, te *execution.TenantExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := te.ID.String()
	if _, ok := m.tenants[key]; !ok {
		return tenantrun.ErrExecutionNotFound
	}
	m.tenants[key] = copyTenant(te)
	return nil
}

// ListTenantExecutions returns every tenant execution of a run in the
// order they were created.
func (m *Store) ListTenantExecutions(_ context.Context, execID id.ExecutionID) ([]*execution.TenantExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.tenantsByExec[execID.String()]
	out := make([]*execution.TenantExecution, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyTenant(m.tenants[k]))
	}
	return out, nil
}

func copyExecution(e *execution.Execution) *execution.Execution {
	cp := *e
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

func copyTenant(te *execution.TenantExecution) *execution.TenantExecution {
	cp := *te
	if te.FinishedAt != nil {
		t := *te.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
