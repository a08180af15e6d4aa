package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/tenantrun/execution"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type runSkippedEntry struct {
	name string
	hook RunSkipped
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type tenantSucceededEntry struct {
	name string
	hook TenantSucceeded
}

type tenantRetryingEntry struct {
	name string
	hook TenantRetrying
}

type tenantFailedEntry struct {
	name string
	hook TenantFailed
}

type tenantRetryExhaustedEntry struct {
	name string
	hook TenantRetryExhausted
}

type triggerFiredEntry struct {
	name string
	hook TriggerFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the engine starts; emitting is safe
// from many goroutines, registering concurrently with emits is not.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runStarted           []runStartedEntry
	runSkipped           []runSkippedEntry
	runCompleted         []runCompletedEntry
	runFailed            []runFailedEntry
	tenantSucceeded      []tenantSucceededEntry
	tenantRetrying       []tenantRetryingEntry
	tenantFailed         []tenantFailedEntry
	tenantRetryExhausted []tenantRetryExhaustedEntry
	triggerFired         []triggerFiredEntry
	shutdown             []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(RunSkipped); ok {
		r.runSkipped = append(r.runSkipped, runSkippedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(TenantSucceeded); ok {
		r.tenantSucceeded = append(r.tenantSucceeded, tenantSucceededEntry{name, h})
	}
	if h, ok := e.(TenantRetrying); ok {
		r.tenantRetrying = append(r.tenantRetrying, tenantRetryingEntry{name, h})
	}
	if h, ok := e.(TenantFailed); ok {
		r.tenantFailed = append(r.tenantFailed, tenantFailedEntry{name, h})
	}
	if h, ok := e.(TenantRetryExhausted); ok {
		r.tenantRetryExhausted = append(r.tenantRetryExhausted, tenantRetryExhaustedEntry{name, h})
	}
	if h, ok := e.(TriggerFired); ok {
		r.triggerFired = append(r.triggerFired, triggerFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, e *execution.Execution) {
	for _, x := range r.runStarted {
		if err := x.hook.OnRunStarted(ctx, e); err != nil {
			r.logHookError("OnRunStarted", x.name, err)
		}
	}
}

// EmitRunSkipped notifies all extensions that implement RunSkipped.
func (r *Registry) EmitRunSkipped(ctx context.Context, e *execution.Execution) {
	for _, x := range r.runSkipped {
		if err := x.hook.OnRunSkipped(ctx, e); err != nil {
			r.logHookError("OnRunSkipped", x.name, err)
		}
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, e *execution.Execution, elapsed time.Duration) {
	for _, x := range r.runCompleted {
		if err := x.hook.OnRunCompleted(ctx, e, elapsed); err != nil {
			r.logHookError("OnRunCompleted", x.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, e *execution.Execution, runErr error) {
	for _, x := range r.runFailed {
		if err := x.hook.OnRunFailed(ctx, e, runErr); err != nil {
			r.logHookError("OnRunFailed", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Tenant event emitters
// ──────────────────────────────────────────────────

// EmitTenantSucceeded notifies all extensions that implement TenantSucceeded.
func (r *Registry) EmitTenantSucceeded(ctx context.Context, te *execution.TenantExecution, elapsed time.Duration) {
	for _, x := range r.tenantSucceeded {
		if err := x.hook.OnTenantSucceeded(ctx, te, elapsed); err != nil {
			r.logHookError("OnTenantSucceeded", x.name, err)
		}
	}
}

// EmitTenantRetrying notifies all extensions that implement TenantRetrying.
func (r *Registry) EmitTenantRetrying(ctx context.Context, te *execution.TenantExecution, attemptErr error, delay time.Duration) {
	for _, x := range r.tenantRetrying {
		if err := x.hook.OnTenantRetrying(ctx, te, attemptErr, delay); err != nil {
			r.logHookError("OnTenantRetrying", x.name, err)
		}
	}
}

// EmitTenantFailed notifies all extensions that implement TenantFailed.
func (r *Registry) EmitTenantFailed(ctx context.Context, te *execution.TenantExecution, attemptErr error) {
	for _, x := range r.tenantFailed {
		if err := x.hook.OnTenantFailed(ctx, te, attemptErr); err != nil {
			r.logHookError("OnTenantFailed", x.name, err)
		}
	}
}

// EmitTenantRetryExhausted notifies all extensions that implement
// TenantRetryExhausted.
func (r *Registry) EmitTenantRetryExhausted(ctx context.Context, te *execution.TenantExecution, attemptErr error) {
	for _, x := range r.tenantRetryExhausted {
		if err := x.hook.OnTenantRetryExhausted(ctx, te, attemptErr); err != nil {
			r.logHookError("OnTenantRetryExhausted", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitTriggerFired notifies all extensions that implement TriggerFired.
func (r *Registry) EmitTriggerFired(ctx context.Context, jobName string) {
	for _, x := range r.triggerFired {
		if err := x.hook.OnTriggerFired(ctx, jobName); err != nil {
			r.logHookError("OnTriggerFired", x.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, x := range r.shutdown {
		if err := x.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", x.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not affect a run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
