package worker_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/worker"
)

func tenantIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%02d", i)
	}
	return ids
}

func outcome(tenantID string) *execution.TenantExecution {
	return &execution.TenantExecution{TenantID: tenantID, Status: execution.TenantSuccess}
}

func TestFanOut_SequentialPreservesOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	tenants := tenantIDs(5)
	out, err := worker.FanOut(context.Background(), worker.Plan{Mode: job.Sequential}, tenants,
		func(_ context.Context, id string, _ worker.Slot) (*execution.TenantExecution, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return outcome(id), nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, tenants) {
		t.Errorf("order = %v, want %v", order, tenants)
	}
	if len(out) != len(tenants) {
		t.Errorf("got %d outcomes, want %d", len(out), len(tenants))
	}
}

func TestFanOut_ParallelRespectsLimit(t *testing.T) {
	const limit = 3
	var active, peak atomic.Int32

	out, err := worker.FanOut(context.Background(), worker.Plan{Mode: job.Parallel, MaxParallelism: limit}, tenantIDs(12),
		func(_ context.Context, id string, _ worker.Slot) (*execution.TenantExecution, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return outcome(id), nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 12 {
		t.Fatalf("got %d outcomes, want 12", len(out))
	}
	if p := peak.Load(); p > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", p, limit)
	}
	if p := peak.Load(); p < 2 {
		t.Errorf("expected tenants to overlap, peak %d", p)
	}
	for i, te := range out {
		if want := fmt.Sprintf("t%02d", i); te.TenantID != want {
			t.Errorf("outcome[%d] = %s, want %s", i, te.TenantID, want)
		}
	}
}

func TestFanOut_ReleasedSlotLetsOthersRun(t *testing.T) {
	// One slot. The first tenant gives it up while "backing off"; the
	// second tenant must be able to run in the meantime.
	secondRan := make(chan struct{})
	out, err := worker.FanOut(context.Background(), worker.Plan{Mode: job.Parallel, MaxParallelism: 1}, []string{"slow", "fast"},
		func(ctx context.Context, id string, slot worker.Slot) (*execution.TenantExecution, error) {
			if id == "fast" {
				close(secondRan)
				return outcome(id), nil
			}
			slot.Release()
			select {
			case <-secondRan:
			case <-time.After(2 * time.Second):
				return nil, errors.New("second tenant never ran")
			}
			if err := slot.Acquire(ctx); err != nil {
				return nil, err
			}
			return outcome(id), nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(out))
	}
}

func TestFanOut_ErrorStopsNewTenants(t *testing.T) {
	errDown := errors.New("store down")
	for _, mode := range []job.Concurrency{job.Sequential, job.Parallel} {
		t.Run(mode.String(), func(t *testing.T) {
			var started atomic.Int32
			out, err := worker.FanOut(context.Background(), worker.Plan{Mode: mode, MaxParallelism: 1}, tenantIDs(10),
				func(_ context.Context, id string, _ worker.Slot) (*execution.TenantExecution, error) {
					if started.Add(1) == 3 {
						return nil, errDown
					}
					return outcome(id), nil
				})
			if !errors.Is(err, errDown) {
				t.Fatalf("expected errDown, got %v", err)
			}
			if s := started.Load(); s != 3 {
				t.Errorf("started %d tenants, want 3", s)
			}
			if len(out) != 2 {
				t.Errorf("got %d outcomes, want 2", len(out))
			}
		})
	}
}

func TestFanOut_GateIsCalledPerTenant(t *testing.T) {
	var gated atomic.Int32
	plan := worker.Plan{
		Mode:           job.Parallel,
		MaxParallelism: 4,
		Gate: func(context.Context) error {
			gated.Add(1)
			return nil
		},
	}
	_, err := worker.FanOut(context.Background(), plan, tenantIDs(7),
		func(_ context.Context, id string, _ worker.Slot) (*execution.TenantExecution, error) {
			return outcome(id), nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g := gated.Load(); g != 7 {
		t.Errorf("gate called %d times, want 7", g)
	}
}

func TestFanOut_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := worker.FanOut(ctx, worker.Plan{Mode: job.Parallel, MaxParallelism: 2}, tenantIDs(3),
		func(_ context.Context, id string, _ worker.Slot) (*execution.TenantExecution, error) {
			return outcome(id), nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no outcomes, got %d", len(out))
	}
}

func TestFanOut_Empty(t *testing.T) {
	out, err := worker.FanOut(context.Background(), worker.Plan{Mode: job.Parallel, MaxParallelism: 2}, nil,
		func(context.Context, string, worker.Slot) (*execution.TenantExecution, error) {
			t.Fatal("fn must not be called")
			return nil, nil
		})
	if err != nil || len(out) != 0 {
		t.Fatalf("got %v, %v", out, err)
	}
}
