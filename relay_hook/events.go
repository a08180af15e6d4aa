package relayhook

import (
	"context"

	"github.com/xraph/relay"
	"github.com/xraph/relay/catalog"
)

// Lifecycle event types. Each constant maps to one ext lifecycle hook and
// is used as the event.Event.Type when sending via Relay.
const (
	EventRunStarted           = "tenantrun.run.started"
	EventRunSkipped           = "tenantrun.run.skipped"
	EventRunCompleted         = "tenantrun.run.completed"
	EventRunFailed            = "tenantrun.run.failed"
	EventTenantSucceeded      = "tenantrun.tenant.succeeded"
	EventTenantRetrying       = "tenantrun.tenant.retrying"
	EventTenantFailed         = "tenantrun.tenant.failed"
	EventTenantRetryExhausted = "tenantrun.tenant.retry_exhausted"
	EventTriggerFired         = "tenantrun.trigger.fired"
)

const definitionVersion = "2026-01-01"

// AllDefinitions returns webhook definitions for every lifecycle event
// type. Pass these to relay.RegisterEventType to populate the catalog.
func AllDefinitions() []catalog.WebhookDefinition {
	return []catalog.WebhookDefinition{
		// ── Run events ──────────────────────────────────
		{
			Name:        EventRunStarted,
			Description: "Fired when a node acquires the job lock and starts a run.",
			Group:       "runs",
			Version:     definitionVersion,
		},
		{
			Name:        EventRunSkipped,
			Description: "Fired when a run is skipped because another node holds the lock.",
			Group:       "runs",
			Version:     definitionVersion,
		},
		{
			Name:        EventRunCompleted,
			Description: "Fired when a run finishes with a final status.",
			Group:       "runs",
			Version:     definitionVersion,
		},
		{
			Name:        EventRunFailed,
			Description: "Fired when a run fails on an infrastructure error.",
			Group:       "runs",
			Version:     definitionVersion,
		},
		// ── Tenant events ───────────────────────────────
		{
			Name:        EventTenantSucceeded,
			Description: "Fired when the job succeeds for a tenant.",
			Group:       "tenants",
			Version:     definitionVersion,
		},
		{
			Name:        EventTenantRetrying,
			Description: "Fired when a tenant attempt fails and another attempt is scheduled.",
			Group:       "tenants",
			Version:     definitionVersion,
		},
		{
			Name:        EventTenantFailed,
			Description: "Fired when a tenant fails with a non-retryable error.",
			Group:       "tenants",
			Version:     definitionVersion,
		},
		{
			Name:        EventTenantRetryExhausted,
			Description: "Fired when a tenant fails after using every attempt.",
			Group:       "tenants",
			Version:     definitionVersion,
		},
		// ── Trigger events ──────────────────────────────
		{
			Name:        EventTriggerFired,
			Description: "Fired when a job's schedule fires on this node.",
			Group:       "triggers",
			Version:     definitionVersion,
		},
	}
}

// RegisterAll registers every lifecycle event type in the Relay catalog.
// Call this once during application startup before sending events.
func RegisterAll(ctx context.Context, r *relay.Relay) error {
	for _, def := range AllDefinitions() {
		if _, err := r.RegisterEventType(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
