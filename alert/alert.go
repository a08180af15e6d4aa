// Package alert raises operator alerts from run and tenant outcomes.
//
// The Extension turns lifecycle events into Alerts: exhausted tenant
// retries, FAILED runs, runs aborted by infrastructure failures, and
// PARTIAL_FAILURE runs whose failure rate reaches a threshold. Skipped
// runs never alert. Alerts are delivered through a Notifier; delivery
// errors are logged and never affect a run.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/ext"
)

// Kind names the condition that raised an alert.
type Kind string

const (
	KindRetryExhausted Kind = "retry_exhausted"
	KindRunFailed      Kind = "run_failed"
	KindPartialFailure Kind = "partial_failure"
	KindInfrastructure Kind = "infrastructure"
)

// Alert is one notification.
type Alert struct {
	Kind        Kind      `json:"kind"`
	JobName     string    `json:"job_name"`
	ExecutionID string    `json:"execution_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Message     string    `json:"message"`
	FailureRate float64   `json:"failure_rate,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

// LogNotifier writes alerts to a logger at error level.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs a.
func (n LogNotifier) Notify(ctx context.Context, a Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "tenantrun alert",
		slog.String("kind", string(a.Kind)),
		slog.String("job", a.JobName),
		slog.String("execution_id", a.ExecutionID),
		slog.String("tenant", a.TenantID),
		slog.Float64("failure_rate", a.FailureRate),
		slog.String("message", a.Message),
	)
	return nil
}

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.RunCompleted         = (*Extension)(nil)
	_ ext.RunFailed            = (*Extension)(nil)
	_ ext.TenantRetryExhausted = (*Extension)(nil)
)

// Option configures an Extension.
type Option func(*Extension)

// WithFailureRateThreshold sets the failed/total ratio at or above which a
// PARTIAL_FAILURE run alerts. Zero alerts on every partial failure; a
// value above 1 never does.
func WithFailureRateThreshold(r float64) Option {
	return func(e *Extension) { e.threshold = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Extension) { e.now = now }
}

// Extension is an ext.Extension that raises alerts.
type Extension struct {
	notifier  Notifier
	threshold float64
	now       func() time.Time
}

// NewExtension creates an alerting extension. A nil notifier logs alerts
// with slog.Default().
func NewExtension(n Notifier, opts ...Option) *Extension {
	if n == nil {
		n = LogNotifier{}
	}
	e := &Extension{
		notifier: n,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "alert" }

// Threshold returns the partial failure threshold.
func (e *Extension) Threshold() float64 { return e.threshold }

// OnRunCompleted implements ext.RunCompleted.
func (e *Extension) OnRunCompleted(ctx context.Context, run *execution.Execution, _ time.Duration) error {
	switch run.Status {
	case execution.StatusFailed:
		return e.notify(ctx, Alert{
			Kind:        KindRunFailed,
			JobName:     run.JobName,
			ExecutionID: run.ID.String(),
			Message:     fmt.Sprintf("all %d tenants failed", run.TotalTenants),
			FailureRate: run.FailureRate(),
		})
	case execution.StatusPartialFailure:
		rate := run.FailureRate()
		if rate < e.threshold {
			return nil
		}
		return e.notify(ctx, Alert{
			Kind:        KindPartialFailure,
			JobName:     run.JobName,
			ExecutionID: run.ID.String(),
			Message:     fmt.Sprintf("%d of %d tenants failed", run.FailedCount, run.TotalTenants),
			FailureRate: rate,
		})
	}
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, run *execution.Execution, err error) error {
	return e.notify(ctx, Alert{
		Kind:        KindInfrastructure,
		JobName:     run.JobName,
		ExecutionID: run.ID.String(),
		Message:     err.Error(),
	})
}

// OnTenantRetryExhausted implements ext.TenantRetryExhausted.
func (e *Extension) OnTenantRetryExhausted(ctx context.Context, te *execution.TenantExecution, err error) error {
	return e.notify(ctx, Alert{
		Kind:        KindRetryExhausted,
		JobName:     te.JobName,
		ExecutionID: te.ExecutionID.String(),
		TenantID:    te.TenantID,
		Message:     fmt.Sprintf("failed after %d attempts: %v", te.AttemptCount, err),
	})
}

func (e *Extension) notify(ctx context.Context, a Alert) error {
	a.At = e.now()
	if err := e.notifier.Notify(ctx, a); err != nil {
		return fmt.Errorf("alert: notify %s for job %s: %w", a.Kind, a.JobName, err)
	}
	return nil
}
