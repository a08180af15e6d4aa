package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/id"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/lock"
	"github.com/xraph/tenantrun/worker"
)

// Run executes one firing of jobName and returns its recorded execution.
//
// When another run holds the job's lock, Run records a SKIPPED execution
// and returns it with a nil error. Tenant failures never fail Run; they
// show up in the execution's status and counts. Run returns an error
// wrapping tenantrun.ErrInfrastructure when the lock store, the tenant
// provider or the execution store fails. In that case the returned
// execution, when non-nil, has been recorded as FAILED.
//
// A run whose lease lapsed and that a later run closed as abandoned keeps
// that stored outcome. Run then returns the stored execution with an
// error wrapping tenantrun.ErrExecutionReclaimed.
//
// Cancelling ctx stops new tenants from starting, fails in-flight tenants
// at their next backoff and finalizes the run as FAILED.
func (eng *Engine) Run(ctx context.Context, jobName string) (*execution.Execution, error) {
	def, ok := eng.registry.Get(jobName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tenantrun.ErrJobNotFound, jobName)
	}

	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return nil, tenantrun.ErrEngineStopped
	}
	eng.inflight.Add(1)
	eng.mu.Unlock()
	defer eng.inflight.Done()

	holder := id.NewHolderID().String()

	ctx, span := eng.tracer.Start(ctx, "tenantrun.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tenantrun.job.name", jobName),
			attribute.String("tenantrun.run.holder", holder),
		),
	)
	defer span.End()

	e, err := eng.run(ctx, def, holder)
	if e != nil {
		span.SetAttributes(
			attribute.String("tenantrun.execution.id", e.ID.String()),
			attribute.String("tenantrun.run.status", string(e.Status)),
			attribute.Int("tenantrun.run.tenants", e.TotalTenants),
			attribute.Int("tenantrun.run.failed", e.FailedCount),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return e, err
}

func (eng *Engine) run(ctx context.Context, def *job.Definition, holder string) (*execution.Execution, error) {
	res, err := eng.locks.Acquire(ctx, def.Name, holder, def.Opts.LeaseDuration)
	if err != nil {
		return nil, infra(err)
	}
	if res == lock.Busy {
		return eng.skip(ctx, def, holder)
	}

	detached := context.WithoutCancel(ctx)
	defer func() {
		if relErr := eng.locks.Release(detached, def.Name, holder); relErr != nil {
			eng.logger.Warn("job lock release error",
				slog.String("job", def.Name),
				slog.String("error", relErr.Error()),
			)
		}
	}()
	stopRenew := eng.locks.Keepalive(ctx, def.Name, holder, def.Opts.LeaseDuration, eng.cfg.RenewInterval)
	defer stopRenew()

	if n, recErr := eng.states.RecoverAbandoned(ctx, def.Name, holder); recErr != nil {
		eng.logger.Warn("abandoned execution recovery error",
			slog.String("job", def.Name),
			slog.String("error", recErr.Error()),
		)
	} else if n > 0 {
		eng.logger.Info("recovered abandoned executions",
			slog.String("job", def.Name),
			slog.Int("count", n),
		)
	}

	start := time.Now()
	e, err := eng.states.Start(ctx, def.Name, holder)
	if err != nil {
		return nil, infra(err)
	}
	eng.extensions.EmitRunStarted(ctx, e)
	eng.logger.Info("run started",
		slog.String("job", def.Name),
		slog.String("execution_id", e.ID.String()),
	)

	tenants, err := eng.provider.ListActiveTenantIDs(ctx, def.Name)
	if err != nil {
		return eng.abort(ctx, e, infra(fmt.Errorf("list tenants: %w", err)))
	}
	tenants = eng.dedupe(def.Name, tenants)

	if err := eng.states.SetTotal(ctx, e, len(tenants)); err != nil {
		return eng.abort(ctx, e, infraUnlessReclaimed(err))
	}

	plan := worker.Plan{
		Mode:           def.Opts.Concurrency,
		MaxParallelism: def.Opts.MaxParallelism,
	}
	eng.throttle.Ensure(def.Name, def.Opts.TenantRate)
	plan.Gate = eng.throttle.Gate(def.Name)

	outcomes, err := worker.FanOut(ctx, plan, tenants,
		func(ctx context.Context, tenantID string, slot worker.Slot) (*execution.TenantExecution, error) {
			return eng.executor.Execute(ctx, e, def, tenantID, slot)
		},
	)
	// Cancellation is the caller's decision, not an infrastructure
	// failure. Every other fan-out error already wraps ErrInfrastructure.
	if ctx.Err() != nil && (err == nil || !errors.Is(err, tenantrun.ErrInfrastructure)) {
		err = fmt.Errorf("run cancelled: %w", context.Cause(ctx))
	}
	if err != nil {
		return eng.abort(ctx, e, err, outcomes...)
	}

	if err := eng.states.Finalize(detached, e, outcomes); err != nil {
		return eng.abort(ctx, e, infraUnlessReclaimed(err), outcomes...)
	}

	elapsed := time.Since(start)
	eng.extensions.EmitRunCompleted(ctx, e, elapsed)
	eng.logger.Info("run completed",
		slog.String("job", def.Name),
		slog.String("execution_id", e.ID.String()),
		slog.String("status", string(e.Status)),
		slog.Int("tenants", e.TotalTenants),
		slog.Int("succeeded", e.SuccessCount),
		slog.Int("failed", e.FailedCount),
		slog.Duration("elapsed", elapsed),
	)
	return e, nil
}

// skip records a run that lost the lock race.
func (eng *Engine) skip(ctx context.Context, def *job.Definition, holder string) (*execution.Execution, error) {
	e, err := eng.states.Skip(ctx, def.Name, holder)
	if err != nil {
		return nil, infra(err)
	}
	eng.extensions.EmitRunSkipped(ctx, e)
	eng.logger.Info("run skipped, job already running",
		slog.String("job", def.Name),
		slog.String("execution_id", e.ID.String()),
	)
	return e, nil
}

// abort finalizes e as FAILED with cause and returns cause. The terminal
// write ignores ctx cancellation. A run already closed by another holder
// keeps its stored outcome.
func (eng *Engine) abort(ctx context.Context, e *execution.Execution, cause error, outcomes ...*execution.TenantExecution) (*execution.Execution, error) {
	if !errors.Is(cause, tenantrun.ErrExecutionReclaimed) {
		err := eng.states.Fail(context.WithoutCancel(ctx), e, cause, outcomes...)
		if err != nil && !errors.Is(err, tenantrun.ErrExecutionReclaimed) {
			eng.logger.Error("failed to record run failure",
				slog.String("job", e.JobName),
				slog.String("execution_id", e.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	eng.extensions.EmitRunFailed(ctx, e, cause)
	eng.logger.Error("run failed",
		slog.String("job", e.JobName),
		slog.String("execution_id", e.ID.String()),
		slog.String("error", cause.Error()),
	)
	return e, cause
}

// dedupe drops repeated tenant IDs, keeping the first occurrence.
func (eng *Engine) dedupe(jobName string, tenants []string) []string {
	seen := make(map[string]struct{}, len(tenants))
	out := make([]string, 0, len(tenants))
	for _, t := range tenants {
		if _, dup := seen[t]; dup {
			eng.logger.Warn("duplicate tenant from provider",
				slog.String("job", jobName),
				slog.String("tenant_id", t),
			)
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func infraUnlessReclaimed(err error) error {
	if errors.Is(err, tenantrun.ErrExecutionReclaimed) {
		return err
	}
	return infra(err)
}

func infra(err error) error {
	if errors.Is(err, tenantrun.ErrInfrastructure) {
		return err
	}
	return fmt.Errorf("%w: %w", tenantrun.ErrInfrastructure, err)
}
