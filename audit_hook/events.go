package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRunStarted      = "run.started"
	ActionRunSkipped      = "run.skipped"
	ActionRunCompleted    = "run.completed"
	ActionRunFailed       = "run.failed"
	ActionTenantSucceeded = "tenant.succeeded"
	ActionTenantRetrying  = "tenant.retrying"
	ActionTenantFailed    = "tenant.failed"
	ActionTenantExhausted = "tenant.retry_exhausted"
	ActionTriggerFired    = "trigger.fired"
)

// Audit event categories group related actions.
const (
	CategoryRun     = "tenantrun.run"
	CategoryTenant  = "tenantrun.tenant"
	CategoryTrigger = "tenantrun.trigger"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceExecution       = "execution"
	ResourceTenantExecution = "tenant_execution"
	ResourceJob             = "job"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRunStarted,
		ActionRunSkipped,
		ActionRunCompleted,
		ActionRunFailed,
		ActionTenantSucceeded,
		ActionTenantRetrying,
		ActionTenantFailed,
		ActionTenantExhausted,
		ActionTriggerFired,
	}
}
