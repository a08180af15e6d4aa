// Package observability provides a metrics extension for tenantrun. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters for runs by outcome, skipped runs, tenant outcomes, retries
// and trigger firings.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
