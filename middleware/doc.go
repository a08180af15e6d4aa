// # Built-in Middleware
//
//   - [Logging]: logs tenant, attempt number, duration and outcome
//   - [Recover]: converts handler panics into failures of kind "panic"
//   - [Timeout]: cancels the attempt context after the job's timeout
//   - [Tracing]: wraps each attempt in an OpenTelemetry span
//   - [Metrics]: records attempt duration and outcome counters
//
// The engine's default chain is Recover, Tracing, Metrics, Logging,
// Timeout. Recover sits outermost so a panic anywhere below it becomes an
// ordinary tenant failure and never aborts the run.
//
// # Writing Custom Middleware
//
//	func Audit(rec Recorder) middleware.Middleware {
//	    return func(ctx context.Context, a *middleware.Attempt, next middleware.Handler) error {
//	        err := next(ctx)
//	        rec.Record(a.JobName, a.TenantID, a.Number, err)
//	        return err
//	    }
//	}
package middleware
