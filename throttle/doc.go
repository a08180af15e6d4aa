// Package throttle limits how fast a job starts tenants.
//
// A job with a tenant rate (job.WithTenantRate) gets a token-bucket
// limiter (golang.org/x/time/rate) that the engine waits on before each
// tenant of a run starts. Limiters live in the [Manager] across runs, so
// back-to-back runs of the same job share one budget.
//
//	m := throttle.NewManager(throttle.Config{Job: "invoice-sweep", Rate: 5, Burst: 10})
//	m.Ensure("invoice-sweep", def.Opts.TenantRate)
//	if gate := m.Gate("invoice-sweep"); gate != nil {
//	    if err := gate(ctx); err != nil {
//	        return err // ctx ended
//	    }
//	}
//
// A [Config] applies while the job declares no rate of its own. Jobs with
// neither are not limited.
package throttle
