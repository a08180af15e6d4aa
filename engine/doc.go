// Package engine wires the tenantrun subsystems together and runs jobs.
//
// An Engine owns the lock manager, the execution state manager, the
// tenant executor, the cron trigger and the extension registry. Run is
// the single entry point for a job firing:
//
//	eng, err := engine.New(store,
//	    engine.WithTenantProvider(tenant.Static("acme", "globex")),
//	    engine.WithExtension(alert.NewExtension(nil)),
//	)
//	_ = eng.Register(job.NewDefinition("invoice-sweep", sweep,
//	    job.WithSchedule("*/15 * * * *"),
//	    job.WithParallel(8),
//	))
//	exec, err := eng.Run(ctx, "invoice-sweep")
//
// A run takes the job's lease lock, records itself, fetches the active
// tenants, fans out over them and aggregates their terminal outcomes into
// SUCCESS, PARTIAL_FAILURE or FAILED. A run that finds the lock held is
// recorded as SKIPPED and is not an error. Failures to reach the tenant
// provider or the store abort the run, record it FAILED and return an
// error wrapping tenantrun.ErrInfrastructure.
//
// This package exists to break the import cycle: job, worker and cron
// cannot import each other's consumers. The engine sits above all
// subsystem packages and below the application layer.
package engine
