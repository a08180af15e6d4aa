// Package job defines recurring job definitions and the process-wide
// registry that holds them.
//
// # Defining a Job
//
// A [Definition] names the job, optionally gives it a cron schedule, and
// supplies the handler that runs once per tenant:
//
//	var InvoiceSweep = job.NewDefinition("invoice-sweep",
//	    func(ctx context.Context, tenantID string) error {
//	        return billing.Sweep(ctx, tenantID)
//	    },
//	    job.WithSchedule("*/15 * * * *"),
//	    job.WithParallel(8),
//	    job.WithMaxAttempts(5),
//	)
//
// Zero-valued options inherit the engine's tenantrun.Config defaults when
// the definition is registered.
//
// # Registry
//
// [Registry] is populated once at startup and read by every run. Replacing
// its contents is an explicit [Registry.Reload]; definitions are never
// mutated in place, so a run in flight keeps the definition it started
// with.
package job
