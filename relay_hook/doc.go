// Package relayhook bridges tenantrun lifecycle events to Relay for webhook
// delivery. When registered as an extension, it emits typed webhook events
// (tenantrun.run.completed, tenantrun.tenant.retry_exhausted, etc.) at every
// lifecycle point.
//
// Usage:
//
//	r, _ := relay.New(relay.WithStore(store))
//	relayhook.RegisterAll(ctx, r)
//
//	hook := relayhook.New(r)
//	engine.WithExtension(hook)
//
// Tenant events carry the tenant identifier as the Relay tenant, so each
// tenant's subscribers only see their own outcomes. Run events are
// system-level and carry no tenant.
package relayhook
