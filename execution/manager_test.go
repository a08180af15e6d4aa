package execution_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
	"github.com/xraph/tenantrun/store/memory"
)

var t0 = time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

func newManager(t *testing.T) (*execution.Manager, *memory.Store) {
	t.Helper()
	s := memory.New()
	now := t0
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return execution.NewManager(s, nil, execution.WithClock(clock)), s
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		total, success, failed int
		want                   execution.Status
	}{
		{0, 0, 0, execution.StatusSuccess},
		{3, 3, 0, execution.StatusSuccess},
		{3, 2, 1, execution.StatusPartialFailure},
		{3, 0, 3, execution.StatusFailed},
	}
	for _, tt := range tests {
		if got := execution.Aggregate(tt.total, tt.success, tt.failed); got != tt.want {
			t.Errorf("Aggregate(%d,%d,%d) = %s, want %s", tt.total, tt.success, tt.failed, got, tt.want)
		}
	}
}

func TestSkipIsTerminal(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	e, err := m.Skip(ctx, "reindex", "hold_a")
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if e.Status != execution.StatusSkipped || e.FinishedAt == nil {
		t.Fatalf("skip = %+v", e)
	}
	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != execution.StatusSkipped {
		t.Errorf("stored status = %s", got.Status)
	}
}

func TestFinalizeCountsOutcomes(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	e, err := m.Start(ctx, "reindex", "hold_a")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.TotalTenants != execution.UnknownTotal {
		t.Fatalf("total = %d before tenants are known", e.TotalTenants)
	}
	if err := m.SetTotal(ctx, e, 3); err != nil {
		t.Fatalf("SetTotal: %v", err)
	}

	var outcomes []*execution.TenantExecution
	for _, tenant := range []string{"acme", "globex", "initech"} {
		te, err := m.StartTenant(ctx, e, tenant)
		if err != nil {
			t.Fatalf("StartTenant(%s): %v", tenant, err)
		}
		outcomes = append(outcomes, te)
	}

	if err := m.SucceedTenant(ctx, outcomes[0]); err != nil {
		t.Fatal(err)
	}
	if err := m.NextAttempt(ctx, outcomes[1]); err != nil {
		t.Fatal(err)
	}
	if err := m.FailTenant(ctx, outcomes[1], "timeout", errors.New("deadline exceeded")); err != nil {
		t.Fatal(err)
	}
	if err := m.SucceedTenant(ctx, outcomes[2]); err != nil {
		t.Fatal(err)
	}

	if err := m.Finalize(ctx, e, outcomes); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if e.Status != execution.StatusPartialFailure || e.SuccessCount != 2 || e.FailedCount != 1 {
		t.Fatalf("execution = %+v", e)
	}
	if e.Duration() <= 0 {
		t.Errorf("duration = %v", e.Duration())
	}

	tenants, err := s.ListTenantExecutions(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListTenantExecutions: %v", err)
	}
	if len(tenants) != 3 || tenants[1].TenantID != "globex" {
		t.Fatalf("tenants = %+v", tenants)
	}
	if tenants[1].AttemptCount != 2 || tenants[1].ErrorKind != "timeout" || tenants[1].Error != "deadline exceeded" {
		t.Errorf("globex = %+v", tenants[1])
	}
}

func TestFinalizeRejectsRunningTenant(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	e, _ := m.Start(ctx, "reindex", "hold_a")
	te, _ := m.StartTenant(ctx, e, "acme")

	err := m.Finalize(ctx, e, []*execution.TenantExecution{te})
	if err == nil || !strings.Contains(err.Error(), "still running") {
		t.Fatalf("err = %v", err)
	}
	if e.Status != execution.StatusRunning {
		t.Errorf("status = %s after rejected finalize", e.Status)
	}
}

func TestTerminalTransitionsRejected(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	e, _ := m.Start(ctx, "reindex", "hold_a")
	te, _ := m.StartTenant(ctx, e, "acme")
	if err := m.SucceedTenant(ctx, te); err != nil {
		t.Fatal(err)
	}
	if err := m.FailTenant(ctx, te, "x", errors.New("late")); err == nil {
		t.Error("FailTenant on a finished tenant succeeded")
	}
	if err := m.NextAttempt(ctx, te); err == nil {
		t.Error("NextAttempt on a finished tenant succeeded")
	}

	if err := m.Finalize(ctx, e, []*execution.TenantExecution{te}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetTotal(ctx, e, 5); err == nil {
		t.Error("SetTotal on a finished execution succeeded")
	}
	if err := m.Fail(ctx, e, errors.New("late")); err == nil {
		t.Error("Fail on a finished execution succeeded")
	}
}

func TestFailWithUnknownTotal(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	e, _ := m.Start(ctx, "reindex", "hold_a")
	if err := m.Fail(ctx, e, errors.New("tenant provider: connection refused")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if e.Status != execution.StatusFailed || e.TotalTenants != 0 || e.FinishedAt == nil {
		t.Fatalf("execution = %+v", e)
	}
	if e.Error != "tenant provider: connection refused" {
		t.Errorf("error = %q", e.Error)
	}
}

func TestFailCountsFinishedTenants(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	e, _ := m.Start(ctx, "reindex", "hold_a")
	_ = m.SetTotal(ctx, e, 3)
	ok, _ := m.StartTenant(ctx, e, "acme")
	_ = m.SucceedTenant(ctx, ok)
	pending, _ := m.StartTenant(ctx, e, "globex")

	if err := m.Fail(ctx, e, errors.New("lock lost"), ok, pending); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if e.TotalTenants != 3 || e.SuccessCount != 1 || e.FailedCount != 0 {
		t.Errorf("execution = %+v", e)
	}
}

func TestRecoverAbandoned(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	stale, _ := m.Start(ctx, "reindex", "hold_dead")
	mine, _ := m.Start(ctx, "reindex", "hold_me")
	other, _ := m.Start(ctx, "billing", "hold_dead")

	closed, err := m.RecoverAbandoned(ctx, "reindex", "hold_me")
	if err != nil {
		t.Fatalf("RecoverAbandoned: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	got, _ := s.GetExecution(ctx, stale.ID)
	if got.Status != execution.StatusFailed || got.Error != execution.AbandonedReason || got.TotalTenants != 0 {
		t.Errorf("stale = %+v", got)
	}
	for _, execID := range []id.ExecutionID{mine.ID, other.ID} {
		got, _ := s.GetExecution(ctx, execID)
		if got.Status != execution.StatusRunning {
			t.Errorf("%s status = %s, want running", execID, got.Status)
		}
	}
}

func TestRecoverAbandonedClosesTenants(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	stale, _ := m.Start(ctx, "reindex", "hold_dead")
	_ = m.SetTotal(ctx, stale, 3)
	done, _ := m.StartTenant(ctx, stale, "acme")
	_ = m.SucceedTenant(ctx, done)
	orphan, _ := m.StartTenant(ctx, stale, "globex")

	if _, err := m.RecoverAbandoned(ctx, "reindex", "hold_me"); err != nil {
		t.Fatalf("RecoverAbandoned: %v", err)
	}

	got, _ := s.GetExecution(ctx, stale.ID)
	if got.TotalTenants != 3 || got.SuccessCount != 1 || got.FailedCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/1/1", got.TotalTenants, got.SuccessCount, got.FailedCount)
	}
	tenants, _ := s.ListTenantExecutions(ctx, stale.ID)
	for _, te := range tenants {
		switch te.ID.String() {
		case done.ID.String():
			if te.Status != execution.TenantSuccess {
				t.Errorf("finished tenant reopened: %+v", te)
			}
		case orphan.ID.String():
			if te.Status != execution.TenantFailed || te.ErrorKind != execution.AbandonedKind || te.FinishedAt == nil {
				t.Errorf("orphaned tenant = %+v", te)
			}
		}
	}
}

func TestRecoverAbandonedDrainsBacklog(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	want := execution.MaxListLimit + 7
	for range want {
		if _, err := m.Start(ctx, "reindex", "hold_dead"); err != nil {
			t.Fatal(err)
		}
	}

	closed, err := m.RecoverAbandoned(ctx, "reindex", "hold_me")
	if err != nil {
		t.Fatalf("RecoverAbandoned: %v", err)
	}
	if closed != want {
		t.Errorf("closed = %d, want %d", closed, want)
	}
	left, _ := s.ListExecutions(ctx, "reindex", execution.ListOpts{Status: execution.StatusRunning})
	if len(left) != 0 {
		t.Errorf("%d executions still running", len(left))
	}
}

func TestReclaimedRunKeepsStoredOutcome(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	slow, _ := m.Start(ctx, "reindex", "hold_slow")
	_ = m.SetTotal(ctx, slow, 1)
	te, _ := m.StartTenant(ctx, slow, "acme")

	if n, err := m.RecoverAbandoned(ctx, "reindex", "hold_next"); err != nil || n != 1 {
		t.Fatalf("RecoverAbandoned = %d, %v", n, err)
	}

	// The slow holder is still alive and finishes its tenant.
	if err := m.SucceedTenant(ctx, te); err != nil {
		t.Fatalf("SucceedTenant: %v", err)
	}
	err := m.Finalize(ctx, slow, []*execution.TenantExecution{te})
	if !errors.Is(err, tenantrun.ErrExecutionReclaimed) {
		t.Fatalf("Finalize = %v, want ErrExecutionReclaimed", err)
	}
	if slow.Status != execution.StatusFailed || slow.Error != execution.AbandonedReason {
		t.Errorf("in-memory execution = %+v, want the stored outcome", slow)
	}

	got, _ := s.GetExecution(ctx, slow.ID)
	if got.Status != execution.StatusFailed || got.Error != execution.AbandonedReason {
		t.Errorf("stored execution overwritten: %+v", got)
	}
}

func TestFailAfterReclaim(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	slow, _ := m.Start(ctx, "reindex", "hold_slow")
	if _, err := m.RecoverAbandoned(ctx, "reindex", "hold_next"); err != nil {
		t.Fatal(err)
	}
	if err := m.Fail(ctx, slow, errors.New("lock lost")); !errors.Is(err, tenantrun.ErrExecutionReclaimed) {
		t.Fatalf("Fail = %v, want ErrExecutionReclaimed", err)
	}
	got, _ := s.GetExecution(ctx, slow.ID)
	if got.Error != execution.AbandonedReason {
		t.Errorf("error = %q, want the abandoned reason", got.Error)
	}
}

type brokenTenantStore struct {
	*memory.Store
}

func (brokenTenantStore) UpdateTenantExecution(context.Context, *execution.TenantExecution) error {
	return errors.New("connection reset")
}

func TestTenantWriteFailureLeavesTenantRunning(t *testing.T) {
	s := brokenTenantStore{memory.New()}
	m := execution.NewManager(s, nil)
	ctx := context.Background()

	e, _ := m.Start(ctx, "reindex", "hold_a")
	_ = m.SetTotal(ctx, e, 1)
	te, err := m.StartTenant(ctx, e, "acme")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.FailTenant(ctx, te, "timeout", errors.New("deadline exceeded")); err == nil {
		t.Fatal("FailTenant succeeded against a broken store")
	}
	if te.Status != execution.TenantRunning || te.FinishedAt != nil || te.ErrorKind != "" {
		t.Fatalf("tenant = %+v after failed write", te)
	}
	if err := m.NextAttempt(ctx, te); err == nil || te.AttemptCount != 1 {
		t.Fatalf("NextAttempt = %v, attempts = %d", err, te.AttemptCount)
	}

	if err := m.Fail(ctx, e, errors.New("store down"), te); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if e.SuccessCount != 0 || e.FailedCount != 0 {
		t.Errorf("unpersisted tenant outcome counted: %+v", e)
	}
}

func TestQueries(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	first, _ := m.Skip(ctx, "reindex", "hold_a")
	second, _ := m.Skip(ctx, "reindex", "hold_b")

	latest, err := m.Latest(ctx, "reindex")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID.String() != second.ID.String() {
		t.Errorf("latest = %s, want %s", latest.ID, second.ID)
	}

	hist, err := m.History(ctx, "reindex", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[1].ID.String() != first.ID.String() {
		t.Errorf("history = %v", hist)
	}

	got, err := m.Get(ctx, first.ID)
	if err != nil || got.HolderID != "hold_a" {
		t.Errorf("Get = %+v, %v", got, err)
	}
}
