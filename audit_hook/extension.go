package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.RunStarted           = (*Extension)(nil)
	_ ext.RunSkipped           = (*Extension)(nil)
	_ ext.RunCompleted         = (*Extension)(nil)
	_ ext.RunFailed            = (*Extension)(nil)
	_ ext.TenantSucceeded      = (*Extension)(nil)
	_ ext.TenantRetrying       = (*Extension)(nil)
	_ ext.TenantFailed         = (*Extension)(nil)
	_ ext.TenantRetryExhausted = (*Extension)(nil)
	_ ext.TriggerFired         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It matches chronicle.Emitter but is defined locally so that callers
// inject the concrete backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event without a module dependency.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants (mirror chronicle/audit).
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants (mirror chronicle/audit).
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
	OutcomeSkipped = "skipped"
)

// Extension bridges tenantrun lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, run *execution.Execution) error {
	return e.record(ctx, auditEntry{
		action: ActionRunStarted, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceExecution, resourceID: run.ID.String(), category: CategoryRun,
	},
		"job_name", run.JobName,
		"holder_id", run.HolderID,
	)
}

// OnRunSkipped implements ext.RunSkipped.
func (e *Extension) OnRunSkipped(ctx context.Context, run *execution.Execution) error {
	return e.record(ctx, auditEntry{
		action: ActionRunSkipped, severity: SeverityInfo, outcome: OutcomeSkipped,
		resource: ResourceExecution, resourceID: run.ID.String(), category: CategoryRun,
	},
		"job_name", run.JobName,
	)
}

// OnRunCompleted implements ext.RunCompleted. A PARTIAL_FAILURE or FAILED
// run is recorded with a failure outcome.
func (e *Extension) OnRunCompleted(ctx context.Context, run *execution.Execution, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	switch run.Status {
	case execution.StatusPartialFailure:
		severity, outcome = SeverityWarning, OutcomePartial
	case execution.StatusFailed:
		severity, outcome = SeverityCritical, OutcomeFailure
	}
	return e.record(ctx, auditEntry{
		action: ActionRunCompleted, severity: severity, outcome: outcome,
		resource: ResourceExecution, resourceID: run.ID.String(), category: CategoryRun,
	},
		"job_name", run.JobName,
		"status", string(run.Status),
		"total_tenants", run.TotalTenants,
		"success_count", run.SuccessCount,
		"failed_count", run.FailedCount,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, run *execution.Execution, err error) error {
	return e.record(ctx, auditEntry{
		action: ActionRunFailed, severity: SeverityCritical, outcome: OutcomeFailure,
		resource: ResourceExecution, resourceID: run.ID.String(), category: CategoryRun, err: err,
	},
		"job_name", run.JobName,
	)
}

// ── Tenant lifecycle hooks ──────────────────────────

// OnTenantSucceeded implements ext.TenantSucceeded.
func (e *Extension) OnTenantSucceeded(ctx context.Context, te *execution.TenantExecution, elapsed time.Duration) error {
	return e.record(ctx, tenantEntry(ActionTenantSucceeded, SeverityInfo, OutcomeSuccess, te, nil),
		"job_name", te.JobName,
		"execution_id", te.ExecutionID.String(),
		"attempt", te.AttemptCount,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnTenantRetrying implements ext.TenantRetrying.
func (e *Extension) OnTenantRetrying(ctx context.Context, te *execution.TenantExecution, err error, delay time.Duration) error {
	return e.record(ctx, tenantEntry(ActionTenantRetrying, SeverityWarning, OutcomeFailure, te, err),
		"job_name", te.JobName,
		"execution_id", te.ExecutionID.String(),
		"attempt", te.AttemptCount,
		"delay_ms", delay.Milliseconds(),
	)
}

// OnTenantFailed implements ext.TenantFailed.
func (e *Extension) OnTenantFailed(ctx context.Context, te *execution.TenantExecution, err error) error {
	return e.record(ctx, tenantEntry(ActionTenantFailed, SeverityWarning, OutcomeFailure, te, err),
		"job_name", te.JobName,
		"execution_id", te.ExecutionID.String(),
		"attempt", te.AttemptCount,
		"error_kind", te.ErrorKind,
	)
}

// OnTenantRetryExhausted implements ext.TenantRetryExhausted.
func (e *Extension) OnTenantRetryExhausted(ctx context.Context, te *execution.TenantExecution, err error) error {
	return e.record(ctx, tenantEntry(ActionTenantExhausted, SeverityCritical, OutcomeFailure, te, err),
		"job_name", te.JobName,
		"execution_id", te.ExecutionID.String(),
		"attempt", te.AttemptCount,
		"error_kind", te.ErrorKind,
	)
}

// ── Trigger hooks ───────────────────────────────────

// OnTriggerFired implements ext.TriggerFired.
func (e *Extension) OnTriggerFired(ctx context.Context, jobName string) error {
	return e.record(ctx, auditEntry{
		action: ActionTriggerFired, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceJob, resourceID: jobName, category: CategoryTrigger,
	})
}

// ── Internal helpers ────────────────────────────────

type auditEntry struct {
	action     string
	severity   string
	outcome    string
	resource   string
	resourceID string
	tenantID   string
	category   string
	err        error
}

func tenantEntry(action, severity, outcome string, te *execution.TenantExecution, err error) auditEntry {
	return auditEntry{
		action:     action,
		severity:   severity,
		outcome:    outcome,
		resource:   ResourceTenantExecution,
		resourceID: te.ID.String(),
		tenantID:   te.TenantID,
		category:   CategoryTenant,
		err:        err,
	}
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged and never propagate to the engine.
func (e *Extension) record(ctx context.Context, entry auditEntry, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[entry.action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if entry.err != nil {
		reason = entry.err.Error()
		meta["error"] = entry.err.Error()
	}

	evt := &AuditEvent{
		Action:     entry.action,
		Resource:   entry.resource,
		Category:   entry.category,
		ResourceID: entry.resourceID,
		TenantID:   entry.tenantID,
		Metadata:   meta,
		Outcome:    entry.outcome,
		Severity:   entry.severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", entry.action),
			slog.String("resource_id", entry.resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
