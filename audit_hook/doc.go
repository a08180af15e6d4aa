// Package audithook is a tenantrun extension that bridges run and tenant
// lifecycle events to an immutable audit trail backend such as Chronicle.
//
// Every run, tenant and trigger hook emits a structured audit event
// through the [Recorder] interface. The extension assigns severity levels
// (info for normal operations, warning for retries and partial failures,
// critical for failed runs and exhausted tenants) and metadata (job name,
// tenant, attempt count, elapsed time, errors).
//
// # Usage with Chronicle
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return chronicle.Info(ctx, evt.Action, evt.Resource, evt.ResourceID).
//	        Category(evt.Category).
//	        Outcome(evt.Outcome).
//	        Record()
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionRunFailed,
//	        audithook.ActionTenantExhausted,
//	    ),
//	)
package audithook
