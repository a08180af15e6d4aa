package worker

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/job"
)

// Slot is one unit of a run's parallel capacity.
type Slot interface {
	// Acquire blocks until the slot is held again or ctx ends.
	Acquire(ctx context.Context) error
	// Release gives the slot back. Releasing a slot that is not held is
	// a no-op.
	Release()
}

// TenantFunc processes one tenant while holding slot. A non-nil error
// aborts the fan-out.
type TenantFunc func(ctx context.Context, tenantID string, slot Slot) (*execution.TenantExecution, error)

// Plan describes how to spread a run over its tenants.
type Plan struct {
	Mode           job.Concurrency
	MaxParallelism int

	// Gate, when set, is called before each tenant starts. It can delay
	// the start (rate limiting) or stop the fan-out by returning an error.
	Gate func(ctx context.Context) error
}

// FanOut calls fn for every tenant. Sequential plans process tenants in
// order; parallel plans keep at most MaxParallelism tenants holding a
// slot at once.
//
// When fn returns an error, or ctx or the Gate fails, no further tenants
// are started; tenants already running are allowed to finish. FanOut
// returns the outcomes of every tenant that produced one, in tenant
// order, and the first error.
func FanOut(ctx context.Context, plan Plan, tenants []string, fn TenantFunc) ([]*execution.TenantExecution, error) {
	if plan.Mode == job.Parallel {
		return fanOutParallel(ctx, plan, tenants, fn)
	}
	return fanOutSequential(ctx, plan, tenants, fn)
}

func fanOutSequential(ctx context.Context, plan Plan, tenants []string, fn TenantFunc) ([]*execution.TenantExecution, error) {
	out := make([]*execution.TenantExecution, 0, len(tenants))
	for _, t := range tenants {
		if err := gate(ctx, plan); err != nil {
			return out, err
		}
		te, err := fn(ctx, t, nopSlot{})
		if te != nil {
			out = append(out, te)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func fanOutParallel(ctx context.Context, plan Plan, tenants []string, fn TenantFunc) ([]*execution.TenantExecution, error) {
	limit := plan.MaxParallelism
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))
	results := make([]*execution.TenantExecution, len(tenants))

	var (
		g       errgroup.Group
		aborted atomic.Bool
		stopErr error
	)

	for i, t := range tenants {
		if aborted.Load() {
			break
		}
		if err := gate(ctx, plan); err != nil {
			stopErr = err
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			stopErr = err
			break
		}
		// A tenant may have failed while we waited for the slot.
		if aborted.Load() {
			sem.Release(1)
			break
		}

		s := &semSlot{sem: sem, held: true}
		g.Go(func() error {
			defer s.Release()
			te, err := fn(ctx, t, s)
			results[i] = te
			if err != nil {
				aborted.Store(true)
			}
			return err
		})
	}

	err := g.Wait()
	if err == nil {
		err = stopErr
	}

	out := make([]*execution.TenantExecution, 0, len(tenants))
	for _, te := range results {
		if te != nil {
			out = append(out, te)
		}
	}
	return out, err
}

func gate(ctx context.Context, plan Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if plan.Gate == nil {
		return nil
	}
	return plan.Gate(ctx)
}

// semSlot is owned by a single tenant goroutine.
type semSlot struct {
	sem  *semaphore.Weighted
	held bool
}

func (s *semSlot) Acquire(ctx context.Context) error {
	if s.held {
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held = true
	return nil
}

func (s *semSlot) Release() {
	if !s.held {
		return
	}
	s.held = false
	s.sem.Release(1)
}

type nopSlot struct{}

func (nopSlot) Acquire(context.Context) error { return nil }
func (nopSlot) Release()                      {}
