package relayhook

import (
	"context"
	"time"

	"github.com/xraph/relay"
	"github.com/xraph/relay/event"

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

// Extension bridges tenantrun lifecycle events to Relay for webhook
// delivery. Each lifecycle hook emits a typed event via [relay.Relay.Send].
type Extension struct {
	relay    *relay.Relay
	enabled  map[string]bool        // nil = all enabled
	payloads map[string]PayloadFunc // custom payload builders
}

// New creates an Extension that emits lifecycle events through the
// provided Relay instance.
func New(r *relay.Relay, opts ...Option) *Extension {
	h := &Extension{relay: r}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "relay-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (h *Extension) OnRunStarted(ctx context.Context, e *execution.Execution) error {
	return h.send(ctx, EventRunStarted, "", newRunPayload(e))
}

// OnRunSkipped implements ext.RunSkipped.
func (h *Extension) OnRunSkipped(ctx context.Context, e *execution.Execution) error {
	return h.send(ctx, EventRunSkipped, "", newRunPayload(e))
}

// OnRunCompleted implements ext.RunCompleted.
func (h *Extension) OnRunCompleted(ctx context.Context, e *execution.Execution, elapsed time.Duration) error {
	return h.send(ctx, EventRunCompleted, "", &runCompletedPayload{
		runPayload: *newRunPayload(e),
		ElapsedMs:  elapsed.Milliseconds(),
	})
}

// OnRunFailed implements ext.RunFailed.
func (h *Extension) OnRunFailed(ctx context.Context, e *execution.Execution, runErr error) error {
	return h.send(ctx, EventRunFailed, "", &runFailedPayload{
		runPayload: *newRunPayload(e),
		Error:      runErr.Error(),
	})
}

// ── Tenant lifecycle hooks ──────────────────────────

// OnTenantSucceeded implements ext.TenantSucceeded.
func (h *Extension) OnTenantSucceeded(ctx context.Context, te *execution.TenantExecution, elapsed time.Duration) error {
	p := newTenantPayload(te)
	p.ElapsedMs = elapsed.Milliseconds()
	return h.send(ctx, EventTenantSucceeded, te.TenantID, p)
}

// OnTenantRetrying implements ext.TenantRetrying.
func (h *Extension) OnTenantRetrying(ctx context.Context, te *execution.TenantExecution, attemptErr error, delay time.Duration) error {
	p := newTenantPayload(te)
	p.Error = attemptErr.Error()
	return h.send(ctx, EventTenantRetrying, te.TenantID, &tenantRetryingPayload{
		tenantPayload: *p,
		DelayMs:       delay.Milliseconds(),
	})
}

// OnTenantFailed implements ext.TenantFailed.
func (h *Extension) OnTenantFailed(ctx context.Context, te *execution.TenantExecution, attemptErr error) error {
	p := newTenantPayload(te)
	p.Error = attemptErr.Error()
	return h.send(ctx, EventTenantFailed, te.TenantID, p)
}

// OnTenantRetryExhausted implements ext.TenantRetryExhausted.
func (h *Extension) OnTenantRetryExhausted(ctx context.Context, te *execution.TenantExecution, attemptErr error) error {
	p := newTenantPayload(te)
	p.Error = attemptErr.Error()
	return h.send(ctx, EventTenantRetryExhausted, te.TenantID, p)
}

// ── Trigger hooks ───────────────────────────────────

// OnTriggerFired implements ext.TriggerFired.
func (h *Extension) OnTriggerFired(ctx context.Context, jobName string) error {
	return h.send(ctx, EventTriggerFired, "", &triggerPayload{
		JobName: jobName,
		FiredAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// ── Internal helpers ────────────────────────────────

// send emits an event through Relay if the event type is enabled.
func (h *Extension) send(ctx context.Context, eventType, tenantID string, defaultData any) error {
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := h.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	return h.relay.Send(ctx, &event.Event{
		Type:     eventType,
		TenantID: tenantID,
		Data:     data,
	})
}

// ── Default payload types ───────────────────────────

type runPayload struct {
	ExecutionID  string `json:"execution_id"`
	JobName      string `json:"job_name"`
	HolderID     string `json:"holder_id,omitempty"`
	Status       string `json:"status"`
	TotalTenants int    `json:"total_tenants"`
	SuccessCount int    `json:"success_count"`
	FailedCount  int    `json:"failed_count"`
}

func newRunPayload(e *execution.Execution) *runPayload {
	return &runPayload{
		ExecutionID:  e.ID.String(),
		JobName:      e.JobName,
		HolderID:     e.HolderID,
		Status:       string(e.Status),
		TotalTenants: e.TotalTenants,
		SuccessCount: e.SuccessCount,
		FailedCount:  e.FailedCount,
	}
}

type runCompletedPayload struct {
	runPayload
	ElapsedMs int64 `json:"elapsed_ms"`
}

type runFailedPayload struct {
	runPayload
	Error string `json:"error"`
}

type tenantPayload struct {
	TenantExecutionID string `json:"tenant_execution_id"`
	ExecutionID       string `json:"execution_id"`
	JobName           string `json:"job_name"`
	TenantID          string `json:"tenant_id"`
	Attempt           int    `json:"attempt"`
	ErrorKind         string `json:"error_kind,omitempty"`
	Error             string `json:"error,omitempty"`
	ElapsedMs         int64  `json:"elapsed_ms,omitempty"`
}

func newTenantPayload(te *execution.TenantExecution) *tenantPayload {
	return &tenantPayload{
		TenantExecutionID: te.ID.String(),
		ExecutionID:       te.ExecutionID.String(),
		JobName:           te.JobName,
		TenantID:          te.TenantID,
		Attempt:           te.AttemptCount,
		ErrorKind:         te.ErrorKind,
	}
}

type tenantRetryingPayload struct {
	tenantPayload
	DelayMs int64 `json:"delay_ms"`
}

type triggerPayload struct {
	JobName string `json:"job_name"`
	FiredAt string `json:"fired_at"`
}
