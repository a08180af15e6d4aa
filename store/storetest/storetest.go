// Package storetest is a conformance suite run against every store.Store
// backend. Backends call Run from their own tests with a freshly migrated
// store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
	"github.com/xraph/tenantrun/store"
)

// Run executes the conformance suite against s.
func Run(t *testing.T, s store.Store) {
	t.Helper()

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
	t.Run("LockExclusive", func(t *testing.T) { testLockExclusive(t, s) })
	t.Run("LockConcurrentAcquire", func(t *testing.T) { testLockConcurrent(t, s) })
	t.Run("LockExpiry", func(t *testing.T) { testLockExpiry(t, s) })
	t.Run("LockRenew", func(t *testing.T) { testLockRenew(t, s) })
	t.Run("ExecutionCRUD", func(t *testing.T) { testExecutionCRUD(t, s) })
	t.Run("ExecutionUpdateRunning", func(t *testing.T) { testExecutionUpdateRunning(t, s) })
	t.Run("ExecutionHistory", func(t *testing.T) { testExecutionHistory(t, s) })
	t.Run("TenantExecutions", func(t *testing.T) { testTenantExecutions(t, s) })
}

// uniqueJob keeps subtests independent when they share a store.
func uniqueJob(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

// ──────────────────────────────────────────────────
// Lock
// ──────────────────────────────────────────────────

func testLockExclusive(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobName := uniqueJob(t)

	ok, err := s.AcquireLock(ctx, jobName, "holder-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v; want true", ok, err)
	}
	ok, err = s.AcquireLock(ctx, jobName, "holder-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire = %v, %v; want false", ok, err)
	}

	l, err := s.GetLock(ctx, jobName)
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if l.HolderID != "holder-a" {
		t.Errorf("holder = %q, want holder-a", l.HolderID)
	}
	if !l.ExpiresAt.After(l.AcquiredAt) {
		t.Errorf("expires_at %v not after acquired_at %v", l.ExpiresAt, l.AcquiredAt)
	}

	// A non-holder release must not remove the lock.
	if err := s.ReleaseLock(ctx, jobName, "holder-b"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if _, err := s.GetLock(ctx, jobName); err != nil {
		t.Fatalf("lock removed by non-holder: %v", err)
	}

	if err := s.ReleaseLock(ctx, jobName, "holder-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.GetLock(ctx, jobName); !errors.Is(err, tenantrun.ErrLockNotFound) {
		t.Fatalf("get after release = %v, want ErrLockNotFound", err)
	}

	ok, err = s.AcquireLock(ctx, jobName, "holder-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release = %v, %v; want true", ok, err)
	}
	if err := s.ReleaseLock(ctx, jobName, "holder-b"); err != nil {
		t.Fatalf("cleanup release: %v", err)
	}
}

func testLockConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobName := uniqueJob(t)

	const racers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.AcquireLock(ctx, jobName, fmt.Sprintf("holder-%d", i), time.Minute)
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			if ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("acquired by %d holders, want exactly 1", acquired)
	}
}

func testLockExpiry(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobName := uniqueJob(t)

	ok, err := s.AcquireLock(ctx, jobName, "slow", 200*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	time.Sleep(400 * time.Millisecond)

	ok, err = s.AcquireLock(ctx, jobName, "fresh", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire expired lock = %v, %v; want true", ok, err)
	}

	// The slow holder must not be able to renew or release the new lease.
	renewed, err := s.RenewLock(ctx, jobName, "slow", time.Minute)
	if err != nil || renewed {
		t.Fatalf("stale renew = %v, %v; want false", renewed, err)
	}
	if err := s.ReleaseLock(ctx, jobName, "slow"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	l, err := s.GetLock(ctx, jobName)
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if l.HolderID != "fresh" {
		t.Fatalf("holder = %q, want fresh", l.HolderID)
	}
}

func testLockRenew(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobName := uniqueJob(t)

	if ok, err := s.AcquireLock(ctx, jobName, "h", 300*time.Millisecond); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	renewed, err := s.RenewLock(ctx, jobName, "h", time.Minute)
	if err != nil || !renewed {
		t.Fatalf("renew = %v, %v; want true", renewed, err)
	}
	time.Sleep(500 * time.Millisecond)

	// Still held thanks to the renewal.
	if ok, err := s.AcquireLock(ctx, jobName, "other", time.Minute); err != nil || ok {
		t.Fatalf("acquire renewed lock = %v, %v; want false", ok, err)
	}
	if renewed, err := s.RenewLock(ctx, "missing-"+jobName, "h", time.Minute); err != nil || renewed {
		t.Fatalf("renew missing = %v, %v; want false", renewed, err)
	}
}

// ──────────────────────────────────────────────────
// Executions
// ──────────────────────────────────────────────────

func newExecution(jobName string, status execution.Status, started time.Time) *execution.Execution {
	return &execution.Execution{
		ID:           id.NewExecutionID(),
		JobName:      jobName,
		HolderID:     id.NewHolderID().String(),
		Status:       status,
		TotalTenants: execution.UnknownTotal,
		StartedAt:    started.UTC().Truncate(time.Millisecond),
	}
}

func testExecutionCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobName := uniqueJob(t)

	e := newExecution(jobName, execution.StatusRunning, time.Now())
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != execution.StatusRunning || got.TotalTenants != execution.UnknownTotal || got.FinishedAt != nil {
		t.Fatalf("unexpected execution: %+v", got)
	}

	finished := time.Now().UTC().Truncate(time.Millisecond)
	e.Status = execution.StatusPartialFailure
	e.TotalTenants = 3
	e.SuccessCount = 2
	e.FailedCount = 1
	e.FinishedAt = &finished
	if err := s.UpdateExecution(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err = s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != execution.StatusPartialFailure || got.SuccessCount != 2 || got.FailedCount != 1 || got.TotalTenants != 3 {
		t.Fatalf("update not persisted: %+v", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Fatalf("finished_at = %v, want %v", got.FinishedAt, finished)
	}

	if _, err := s.GetExecution(ctx, id.NewExecutionID()); !errors.Is(err, tenantrun.ErrExecutionNotFound) {
		t.Fatalf("get missing = %v, want ErrExecutionNotFound", err)
	}
	missing := newExecution(jobName, execution.StatusRunning, time.Now())
	if err := s.UpdateExecution(ctx, missing); !errors.Is(err, tenantrun.ErrExecutionNotFound) {
		t.Fatalf("update missing = %v, want ErrExecutionNotFound", err)
	}
}

func testExecutionUpdateRunning(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobName := uniqueJob(t)

	e := newExecution(jobName, execution.StatusRunning, time.Now())
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A running execution accepts the write.
	e.TotalTenants = 2
	ok, err := s.UpdateRunningExecution(ctx, e)
	if err != nil || !ok {
		t.Fatalf("update running = %v, %v, want true", ok, err)
	}

	// A later holder closes it.
	closedAt := time.Now().UTC().Truncate(time.Millisecond)
	closer := *e
	closer.Status = execution.StatusFailed
	closer.Error = execution.AbandonedReason
	closer.FinishedAt = &closedAt
	if ok, err := s.UpdateRunningExecution(ctx, &closer); err != nil || !ok {
		t.Fatalf("close = %v, %v, want true", ok, err)
	}

	// The original holder's terminal write is refused.
	finished := time.Now().UTC().Truncate(time.Millisecond)
	e.Status = execution.StatusSuccess
	e.SuccessCount = 2
	e.FinishedAt = &finished
	ok, err = s.UpdateRunningExecution(ctx, e)
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if ok {
		t.Fatal("stale update of a closed execution must not be applied")
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != execution.StatusFailed || got.Error != execution.AbandonedReason || got.SuccessCount != 0 {
		t.Fatalf("closed execution overwritten: %+v", got)
	}

	missing := newExecution(jobName, execution.StatusRunning, time.Now())
	if _, err := s.UpdateRunningExecution(ctx, missing); !errors.Is(err, tenantrun.ErrExecutionNotFound) {
		t.Fatalf("update missing = %v, want ErrExecutionNotFound", err)
	}
}

func testExecutionHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobName := uniqueJob(t)

	if _, err := s.LatestExecution(ctx, jobName); !errors.Is(err, tenantrun.ErrExecutionNotFound) {
		t.Fatalf("latest on empty = %v, want ErrExecutionNotFound", err)
	}

	base := time.Now().Add(-time.Hour)
	var ids []id.ExecutionID
	for i := range 5 {
		status := execution.StatusSuccess
		if i == 2 {
			status = execution.StatusRunning
		}
		e := newExecution(jobName, status, base.Add(time.Duration(i)*time.Minute))
		if err := s.CreateExecution(ctx, e); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, e.ID)
	}
	// Another job's history must not leak in.
	if err := s.CreateExecution(ctx, newExecution(jobName+"-other", execution.StatusSuccess, time.Now())); err != nil {
		t.Fatalf("create other: %v", err)
	}

	latest, err := s.LatestExecution(ctx, jobName)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID.String() != ids[4].String() {
		t.Errorf("latest = %s, want %s", latest.ID, ids[4])
	}

	list, err := s.ListExecutions(ctx, jobName, execution.ListOpts{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []id.ExecutionID{ids[4], ids[3], ids[2]}
	if len(list) != len(want) {
		t.Fatalf("list returned %d, want %d", len(list), len(want))
	}
	for i := range want {
		if list[i].ID.String() != want[i].String() {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID, want[i])
		}
	}

	running, err := s.ListExecutions(ctx, jobName, execution.ListOpts{Status: execution.StatusRunning})
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(running) != 1 || running[0].ID.String() != ids[2].String() {
		t.Fatalf("running filter returned %d executions", len(running))
	}
}

func testTenantExecutions(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobName := uniqueJob(t)

	e := newExecution(jobName, execution.StatusRunning, time.Now())
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	start := time.Now().UTC().Truncate(time.Millisecond)
	var tes []*execution.TenantExecution
	for i, tenantID := range []string{"acme", "globex", "initech"} {
		te := &execution.TenantExecution{
			ID:           id.NewTenantExecutionID(),
			ExecutionID:  e.ID,
			JobName:      jobName,
			TenantID:     tenantID,
			Status:       execution.TenantRunning,
			AttemptCount: 1,
			StartedAt:    start.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.CreateTenantExecution(ctx, te); err != nil {
			t.Fatalf("create tenant %s: %v", tenantID, err)
		}
		tes = append(tes, te)
	}

	finished := time.Now().UTC().Truncate(time.Millisecond)
	tes[1].Status = execution.TenantFailed
	tes[1].AttemptCount = 3
	tes[1].ErrorKind = "http_5xx"
	tes[1].Error = "bad gateway"
	tes[1].FinishedAt = &finished
	if err := s.UpdateTenantExecution(ctx, tes[1]); err != nil {
		t.Fatalf("update tenant: %v", err)
	}

	list, err := s.ListTenantExecutions(ctx, e.ID)
	if err != nil {
		t.Fatalf("list tenants: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d tenant executions, want 3", len(list))
	}
	for i, tenantID := range []string{"acme", "globex", "initech"} {
		if list[i].TenantID != tenantID {
			t.Errorf("list[%d].TenantID = %q, want %q", i, list[i].TenantID, tenantID)
		}
	}
	g := list[1]
	if g.Status != execution.TenantFailed || g.AttemptCount != 3 || g.ErrorKind != "http_5xx" || g.Error != "bad gateway" || g.FinishedAt == nil {
		t.Errorf("update not persisted: %+v", g)
	}

	empty, err := s.ListTenantExecutions(ctx, id.NewExecutionID())
	if err != nil {
		t.Fatalf("list tenants of unknown execution: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown execution returned %d tenants", len(empty))
	}
}
