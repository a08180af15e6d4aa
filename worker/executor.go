// Package worker runs a job's handler for tenants: an Executor that drives
// one tenant through its attempts and retries, and FanOut which spreads a
// run over its tenants sequentially or in parallel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/ext"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/middleware"
	"github.com/xraph/tenantrun/retry"
	"github.com/xraph/tenantrun/tenant"
)

// Executor runs one tenant of a run through the bridge, the middleware
// chain and the job handler, then applies the retry decision, state
// updates and lifecycle events.
//
// Per-tenant failures are recorded on the TenantExecution and never
// returned. Execute returns an error only when state could not be
// persisted; such errors wrap tenantrun.ErrInfrastructure.
type Executor struct {
	states     *execution.Manager
	extensions *ext.Registry
	bridge     tenant.Bridge
	classifier *retry.Classifier
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. A nil
// bridge uses tenant.NopBridge and a nil classifier retries every failure.
func NewExecutor(
	states *execution.Manager,
	extensions *ext.Registry,
	bridge tenant.Bridge,
	classifier *retry.Classifier,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bridge == nil {
		bridge = tenant.NopBridge{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Executor{
		states:     states,
		extensions: extensions,
		bridge:     bridge,
		classifier: classifier,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs tenantID for run until it succeeds, fails permanently or
// exhausts its attempts. slot is the tenant's parallel slot; it is only
// released and re-acquired when def waits out backoffs with
// job.WaitReleaseSlot.
func (e *Executor) Execute(
	ctx context.Context,
	run *execution.Execution,
	def *job.Definition,
	tenantID string,
	slot Slot,
) (*execution.TenantExecution, error) {
	te, err := e.states.StartTenant(ctx, run, tenantID)
	if err != nil {
		return nil, infra(err)
	}

	policy := *def.Opts.Retry
	classifier := def.Opts.Classifier
	if classifier == nil {
		classifier = e.classifier
	}
	start := time.Now()

	for {
		attemptErr := e.attempt(ctx, def, te, policy.MaxAttempts)
		if attemptErr == nil {
			return e.succeed(ctx, te, time.Since(start))
		}

		if ctx.Err() != nil {
			return e.cancel(ctx, te, attemptErr)
		}

		d := retry.Decide(policy, classifier, te.AttemptCount, attemptErr)
		switch {
		case d.Exhausted:
			return e.exhaust(ctx, te, d.Kind, attemptErr)
		case !d.Retry:
			return e.fail(ctx, te, d.Kind, attemptErr)
		}

		e.extensions.EmitTenantRetrying(ctx, te, attemptErr, d.Delay)
		e.logger.Info("tenant attempt failed, retrying",
			slog.String("job", te.JobName),
			slog.String("execution_id", te.ExecutionID.String()),
			slog.String("tenant", te.TenantID),
			slog.Int("attempt", te.AttemptCount),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.String("error_kind", string(d.Kind)),
			slog.Duration("delay", d.Delay),
			slog.String("error", attemptErr.Error()),
		)

		if waitErr := wait(ctx, d.Delay, def.Opts.RetryWait, slot); waitErr != nil {
			return e.cancel(ctx, te, attemptErr)
		}

		if err := e.states.NextAttempt(ctx, te); err != nil {
			return te, infra(err)
		}
	}
}

// attempt runs a single attempt. Teardown runs once for every successful
// setup, and a panic that escapes the middleware chain still becomes a
// tenant failure.
func (e *Executor) attempt(ctx context.Context, def *job.Definition, te *execution.TenantExecution, maxAttempts int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.Failure(retry.KindPanic, fmt.Sprintf("panic in job %s for tenant %s: %v", te.JobName, te.TenantID, r))
		}
	}()

	tctx, err := e.bridge.Setup(ctx, te.TenantID)
	if err != nil {
		if retry.KindOf(err) == retry.KindUnknown {
			err = retry.Wrap(retry.KindSetup, err)
		}
		return err
	}
	defer func() {
		if tdErr := e.bridge.Teardown(tctx); tdErr != nil {
			e.logger.Warn("tenant teardown failed",
				slog.String("job", te.JobName),
				slog.String("tenant", te.TenantID),
				slog.String("error", tdErr.Error()),
			)
		}
	}()

	a := &middleware.Attempt{
		JobName:     te.JobName,
		ExecutionID: te.ExecutionID.String(),
		TenantID:    te.TenantID,
		Number:      te.AttemptCount,
		MaxAttempts: maxAttempts,
		Timeout:     def.Opts.Timeout,
	}
	return e.mw(tctx, a, func(ctx context.Context) error {
		return def.Handler(ctx, te.TenantID)
	})
}

// succeed records te SUCCESS. Like fail and exhaust it writes with a
// context detached from ctx, since the attempt has already finished and a
// cancel landing now must not lose its outcome.
func (e *Executor) succeed(ctx context.Context, te *execution.TenantExecution, elapsed time.Duration) (*execution.TenantExecution, error) {
	if err := e.states.SucceedTenant(context.WithoutCancel(ctx), te); err != nil {
		return te, infra(err)
	}
	e.extensions.EmitTenantSucceeded(ctx, te, elapsed)
	return te, nil
}

func (e *Executor) fail(ctx context.Context, te *execution.TenantExecution, kind retry.Kind, cause error) (*execution.TenantExecution, error) {
	if err := e.states.FailTenant(context.WithoutCancel(ctx), te, string(kind), cause); err != nil {
		return te, infra(err)
	}
	e.extensions.EmitTenantFailed(ctx, te, cause)
	e.logger.Warn("tenant failed",
		slog.String("job", te.JobName),
		slog.String("execution_id", te.ExecutionID.String()),
		slog.String("tenant", te.TenantID),
		slog.Int("attempt", te.AttemptCount),
		slog.String("error_kind", string(kind)),
		slog.String("error", cause.Error()),
	)
	return te, nil
}

func (e *Executor) exhaust(ctx context.Context, te *execution.TenantExecution, kind retry.Kind, cause error) (*execution.TenantExecution, error) {
	if err := e.states.FailTenant(context.WithoutCancel(ctx), te, string(kind), cause); err != nil {
		return te, infra(err)
	}
	e.extensions.EmitTenantRetryExhausted(ctx, te, cause)
	e.logger.Warn("tenant retries exhausted",
		slog.String("job", te.JobName),
		slog.String("execution_id", te.ExecutionID.String()),
		slog.String("tenant", te.TenantID),
		slog.Int("attempts", te.AttemptCount),
		slog.String("error_kind", string(kind)),
		slog.String("error", cause.Error()),
	)
	return te, nil
}

// cancel records te as FAILED because ctx ended. The write uses a
// context that outlives ctx so the outcome is not lost.
func (e *Executor) cancel(ctx context.Context, te *execution.TenantExecution, cause error) (*execution.TenantExecution, error) {
	msg := fmt.Errorf("cancelled: %w", context.Cause(ctx))
	if cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		msg = fmt.Errorf("cancelled after %w", cause)
	}
	if err := e.states.FailTenant(context.WithoutCancel(ctx), te, string(retry.KindCancelled), msg); err != nil {
		return te, infra(err)
	}
	e.extensions.EmitTenantFailed(ctx, te, msg)
	return te, nil
}

// wait sleeps for d, giving up the tenant's slot during the sleep when
// mode is job.WaitReleaseSlot. A non-nil error means ctx ended first; the
// slot is not held in that case.
func wait(ctx context.Context, d time.Duration, mode job.RetryWait, slot Slot) error {
	release := mode == job.WaitReleaseSlot && slot != nil
	if release {
		slot.Release()
	}

	if d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	if release {
		return slot.Acquire(ctx)
	}
	return nil
}

func infra(err error) error {
	return fmt.Errorf("%w: %w", tenantrun.ErrInfrastructure, err)
}
