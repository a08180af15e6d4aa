package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.RunStarted           = (*MetricsExtension)(nil)
	_ ext.RunSkipped           = (*MetricsExtension)(nil)
	_ ext.RunCompleted         = (*MetricsExtension)(nil)
	_ ext.RunFailed            = (*MetricsExtension)(nil)
	_ ext.TenantSucceeded      = (*MetricsExtension)(nil)
	_ ext.TenantRetrying       = (*MetricsExtension)(nil)
	_ ext.TenantFailed         = (*MetricsExtension)(nil)
	_ ext.TenantRetryExhausted = (*MetricsExtension)(nil)
	_ ext.TriggerFired         = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via go-utils MetricFactory.
// Register it as an engine extension to track run outcomes, skipped runs,
// tenant outcomes, retries and trigger firings.
type MetricsExtension struct {
	RunStarted      gu.Counter
	RunSkipped      gu.Counter
	RunSucceeded    gu.Counter
	RunPartial      gu.Counter
	RunFailed       gu.Counter
	RunAborted      gu.Counter
	TenantSucceeded gu.Counter
	TenantFailed    gu.Counter
	TenantRetried   gu.Counter
	TenantExhausted gu.Counter
	TriggerFired    gu.Counter
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("tenantrun/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the provided MetricFactory.
// Use fapp.Metrics() in forge extensions, or gu.NewMetricsCollector for testing.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		RunStarted:      factory.Counter("tenantrun.run.started"),
		RunSkipped:      factory.Counter("tenantrun.run.skipped"),
		RunSucceeded:    factory.Counter("tenantrun.run.succeeded"),
		RunPartial:      factory.Counter("tenantrun.run.partial_failure"),
		RunFailed:       factory.Counter("tenantrun.run.failed"),
		RunAborted:      factory.Counter("tenantrun.run.aborted"),
		TenantSucceeded: factory.Counter("tenantrun.tenant.succeeded"),
		TenantFailed:    factory.Counter("tenantrun.tenant.failed"),
		TenantRetried:   factory.Counter("tenantrun.tenant.retried"),
		TenantExhausted: factory.Counter("tenantrun.tenant.retry_exhausted"),
		TriggerFired:    factory.Counter("tenantrun.trigger.fired"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(_ context.Context, _ *execution.Execution) error {
	m.RunStarted.Inc()
	return nil
}

// OnRunSkipped implements ext.RunSkipped.
func (m *MetricsExtension) OnRunSkipped(_ context.Context, _ *execution.Execution) error {
	m.RunSkipped.Inc()
	return nil
}

// OnRunCompleted implements ext.RunCompleted. The counter is picked by
// the run's final status.
func (m *MetricsExtension) OnRunCompleted(_ context.Context, e *execution.Execution, _ time.Duration) error {
	switch e.Status {
	case execution.StatusSuccess:
		m.RunSucceeded.Inc()
	case execution.StatusPartialFailure:
		m.RunPartial.Inc()
	case execution.StatusFailed:
		m.RunFailed.Inc()
	}
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(_ context.Context, _ *execution.Execution, _ error) error {
	m.RunAborted.Inc()
	return nil
}

// ── Tenant lifecycle hooks ──────────────────────────

// OnTenantSucceeded implements ext.TenantSucceeded.
func (m *MetricsExtension) OnTenantSucceeded(_ context.Context, _ *execution.TenantExecution, _ time.Duration) error {
	m.TenantSucceeded.Inc()
	return nil
}

// OnTenantRetrying implements ext.TenantRetrying.
func (m *MetricsExtension) OnTenantRetrying(_ context.Context, _ *execution.TenantExecution, _ error, _ time.Duration) error {
	m.TenantRetried.Inc()
	return nil
}

// OnTenantFailed implements ext.TenantFailed.
func (m *MetricsExtension) OnTenantFailed(_ context.Context, _ *execution.TenantExecution, _ error) error {
	m.TenantFailed.Inc()
	return nil
}

// OnTenantRetryExhausted implements ext.TenantRetryExhausted. Exhausted
// tenants also count as failed.
func (m *MetricsExtension) OnTenantRetryExhausted(_ context.Context, _ *execution.TenantExecution, _ error) error {
	m.TenantExhausted.Inc()
	m.TenantFailed.Inc()
	return nil
}

// ── Trigger hooks ───────────────────────────────────

// OnTriggerFired implements ext.TriggerFired.
func (m *MetricsExtension) OnTriggerFired(_ context.Context, _ string) error {
	m.TriggerFired.Inc()
	return nil
}
