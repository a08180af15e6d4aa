package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/id"
)

// AbandonedReason is recorded on RUNNING executions that a later lock
// holder found and closed.
const AbandonedReason = "abandoned: lock holder stopped before finishing"

// AbandonedKind is the error kind of tenant executions closed with an
// abandoned run.
const AbandonedKind = "abandoned"

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager applies run and tenant state transitions through a Store.
// It makes no scheduling decisions.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager. A nil logger uses slog.Default().
func NewManager(store Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// ──────────────────────────────────────────────────
// Run transitions
// ──────────────────────────────────────────────────

// Skip records a run that found the job's lock busy. The execution is
// created already terminal.
func (m *Manager) Skip(ctx context.Context, jobName, holderID string) (*Execution, error) {
	now := m.now()
	e := &Execution{
		ID:         id.NewExecutionID(),
		JobName:    jobName,
		HolderID:   holderID,
		Status:     StatusSkipped,
		StartedAt:  now,
		FinishedAt: &now,
	}
	if err := m.store.CreateExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("execution: record skip: %w", err)
	}
	return e, nil
}

// Start records a RUNNING execution whose tenant total is not yet known.
func (m *Manager) Start(ctx context.Context, jobName, holderID string) (*Execution, error) {
	e := &Execution{
		ID:           id.NewExecutionID(),
		JobName:      jobName,
		HolderID:     holderID,
		Status:       StatusRunning,
		TotalTenants: UnknownTotal,
		StartedAt:    m.now(),
	}
	if err := m.store.CreateExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("execution: start: %w", err)
	}
	return e, nil
}

// SetTotal records the number of tenants the run will process.
func (m *Manager) SetTotal(ctx context.Context, e *Execution, total int) error {
	if err := checkRunning(e); err != nil {
		return err
	}
	next := *e
	next.TotalTenants = total
	return m.commit(ctx, e, &next, "set total")
}

// Fail finalizes e as FAILED because of an infrastructure failure. An
// unknown total becomes zero. Terminal outcomes of tenants that finished
// before the failure are counted.
func (m *Manager) Fail(ctx context.Context, e *Execution, cause error, outcomes ...*TenantExecution) error {
	if err := checkRunning(e); err != nil {
		return err
	}
	now := m.now()
	next := *e
	if next.TotalTenants == UnknownTotal {
		next.TotalTenants = 0
	}
	next.SuccessCount, next.FailedCount = count(outcomes)
	next.Status = StatusFailed
	if cause != nil {
		next.Error = cause.Error()
	}
	next.FinishedAt = &now
	return m.commit(ctx, e, &next, "fail")
}

// Finalize counts the terminal tenant outcomes, derives the run status
// and persists it. Every outcome must be terminal.
func (m *Manager) Finalize(ctx context.Context, e *Execution, outcomes []*TenantExecution) error {
	if err := checkRunning(e); err != nil {
		return err
	}
	for _, te := range outcomes {
		if !te.Status.IsTerminal() {
			return fmt.Errorf("execution: finalize %s: tenant %q still %s", e.ID, te.TenantID, te.Status)
		}
	}

	now := m.now()
	next := *e
	next.TotalTenants = len(outcomes)
	next.SuccessCount, next.FailedCount = count(outcomes)
	next.Status = Aggregate(next.TotalTenants, next.SuccessCount, next.FailedCount)
	next.FinishedAt = &now
	return m.commit(ctx, e, &next, "finalize")
}

// commit persists next while the stored run is still RUNNING and then
// applies it to e. When a later lock holder has already closed the run,
// e is refreshed from the store instead and ErrExecutionReclaimed is
// returned.
func (m *Manager) commit(ctx context.Context, e, next *Execution, op string) error {
	ok, err := m.store.UpdateRunningExecution(ctx, next)
	if err != nil {
		return fmt.Errorf("execution: %s: %w", op, err)
	}
	if ok {
		*e = *next
		return nil
	}

	m.logger.Warn("run reclaimed by another holder, keeping stored outcome",
		slog.String("job", e.JobName),
		slog.String("execution_id", e.ID.String()),
		slog.String("holder", e.HolderID),
		slog.String("dropped_status", string(next.Status)),
	)
	if stored, err := m.store.GetExecution(ctx, e.ID); err == nil {
		*e = *stored
	}
	return fmt.Errorf("execution: %s %s: %w", op, e.ID, tenantrun.ErrExecutionReclaimed)
}

func count(outcomes []*TenantExecution) (success, failed int) {
	for _, te := range outcomes {
		switch te.Status {
		case TenantSuccess:
			success++
		case TenantFailed:
			failed++
		}
	}
	return success, failed
}

// RecoverAbandoned closes RUNNING executions of jobName left by holders
// other than holderID, along with their unfinished tenant executions. The
// caller must hold the job's lock, which proves those holders are gone. It
// returns how many executions were closed.
func (m *Manager) RecoverAbandoned(ctx context.Context, jobName, holderID string) (int, error) {
	closed := 0
	for {
		stale, err := m.store.ListExecutions(ctx, jobName, ListOpts{Status: StatusRunning, Limit: MaxListLimit})
		if err != nil {
			return closed, fmt.Errorf("execution: list running: %w", err)
		}

		page := 0
		for _, e := range stale {
			if e.HolderID == holderID {
				continue
			}
			ok, err := m.closeAbandoned(ctx, e)
			if err != nil {
				return closed, err
			}
			if ok {
				page++
			}
		}
		closed += page
		// Rows that were skipped stay RUNNING, so a full page with nothing
		// closed would be listed again.
		if len(stale) < MaxListLimit || page == 0 {
			return closed, nil
		}
	}
}

func (m *Manager) closeAbandoned(ctx context.Context, e *Execution) (bool, error) {
	tenants, err := m.store.ListTenantExecutions(ctx, e.ID)
	if err != nil {
		return false, fmt.Errorf("execution: list tenants of abandoned %s: %w", e.ID, err)
	}

	now := m.now()
	next := *e
	if next.TotalTenants == UnknownTotal {
		next.TotalTenants = 0
	}
	next.SuccessCount, next.FailedCount = 0, 0
	for _, te := range tenants {
		if te.Status == TenantSuccess {
			next.SuccessCount++
		} else {
			next.FailedCount++
		}
	}
	next.Status = StatusFailed
	next.Error = AbandonedReason
	next.FinishedAt = &now

	ok, err := m.store.UpdateRunningExecution(ctx, &next)
	if err != nil {
		return false, fmt.Errorf("execution: close abandoned %s: %w", e.ID, err)
	}
	if !ok {
		// Its holder finished it after the listing.
		return false, nil
	}

	orphans := 0
	for _, te := range tenants {
		if te.Status.IsTerminal() {
			continue
		}
		if err := m.FailTenant(ctx, te, AbandonedKind, errors.New(AbandonedReason)); err != nil {
			return true, err
		}
		orphans++
	}
	m.logger.Warn("closed abandoned execution",
		slog.String("job", e.JobName),
		slog.String("execution_id", e.ID.String()),
		slog.String("previous_holder", e.HolderID),
		slog.Int("orphaned_tenants", orphans),
	)
	return true, nil
}

func checkRunning(e *Execution) error {
	if e.Status != StatusRunning {
		return fmt.Errorf("execution: %s is %s, not running", e.ID, e.Status)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Tenant transitions
// ──────────────────────────────────────────────────

// StartTenant records a RUNNING tenant execution on its first attempt.
func (m *Manager) StartTenant(ctx context.Context, e *Execution, tenantID string) (*TenantExecution, error) {
	te := &TenantExecution{
		ID:           id.NewTenantExecutionID(),
		ExecutionID:  e.ID,
		JobName:      e.JobName,
		TenantID:     tenantID,
		Status:       TenantRunning,
		AttemptCount: 1,
		StartedAt:    m.now(),
	}
	if err := m.store.CreateTenantExecution(ctx, te); err != nil {
		return nil, fmt.Errorf("execution: start tenant %q: %w", tenantID, err)
	}
	return te, nil
}

// NextAttempt increments the attempt count and persists it. te is left
// unchanged when the write fails.
func (m *Manager) NextAttempt(ctx context.Context, te *TenantExecution) error {
	if te.Status.IsTerminal() {
		return fmt.Errorf("execution: tenant %q already %s", te.TenantID, te.Status)
	}
	next := *te
	next.AttemptCount++
	if err := m.store.UpdateTenantExecution(ctx, &next); err != nil {
		return fmt.Errorf("execution: record attempt for tenant %q: %w", te.TenantID, err)
	}
	*te = next
	return nil
}

// SucceedTenant marks te SUCCESS.
func (m *Manager) SucceedTenant(ctx context.Context, te *TenantExecution) error {
	return m.finishTenant(ctx, te, TenantSuccess, "", nil)
}

// FailTenant marks te FAILED with the failure's kind and message.
func (m *Manager) FailTenant(ctx context.Context, te *TenantExecution, kind string, cause error) error {
	return m.finishTenant(ctx, te, TenantFailed, kind, cause)
}

func (m *Manager) finishTenant(ctx context.Context, te *TenantExecution, status TenantStatus, kind string, cause error) error {
	if te.Status.IsTerminal() {
		return fmt.Errorf("execution: tenant %q already %s", te.TenantID, te.Status)
	}
	now := m.now()
	next := *te
	next.Status = status
	next.ErrorKind = kind
	if cause != nil {
		next.Error = cause.Error()
	}
	next.FinishedAt = &now
	if err := m.store.UpdateTenantExecution(ctx, &next); err != nil {
		return fmt.Errorf("execution: finish tenant %q: %w", te.TenantID, err)
	}
	*te = next
	return nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Get returns an execution by ID.
func (m *Manager) Get(ctx context.Context, execID id.ExecutionID) (*Execution, error) {
	return m.store.GetExecution(ctx, execID)
}

// Latest returns the most recent execution of a job.
func (m *Manager) Latest(ctx context.Context, jobName string) (*Execution, error) {
	return m.store.LatestExecution(ctx, jobName)
}

// History returns up to limit executions of a job, most recent first.
func (m *Manager) History(ctx context.Context, jobName string, limit int) ([]*Execution, error) {
	return m.store.ListExecutions(ctx, jobName, ListOpts{Limit: limit})
}

// Tenants returns every tenant outcome of a run.
func (m *Manager) Tenants(ctx context.Context, execID id.ExecutionID) ([]*TenantExecution, error) {
	return m.store.ListTenantExecutions(ctx, execID)
}
