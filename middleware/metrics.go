package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/tenantrun/retry"
)

// meterName is the instrumentation scope name for tenantrun metrics.
const meterName = "github.com/xraph/tenantrun"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - tenantrun.attempt.duration (Float64Histogram): attempt time in
//     seconds, with attributes job, status ("ok" or "error")
//   - tenantrun.attempt.count (Int64Counter): attempts, with attributes
//     job, status, error_kind
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// OTel returns noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"tenantrun.attempt.duration",
		metric.WithDescription("Duration of tenant attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"tenantrun.attempt.count",
		metric.WithDescription("Total number of tenant attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, a *Attempt, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		duration.Record(ctx, elapsed, metric.WithAttributes(
			attribute.String("job", a.JobName),
			attribute.String("status", status),
		))
		attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job", a.JobName),
			attribute.String("status", status),
			attribute.String("error_kind", string(retry.KindOf(err))),
		))

		return err
	}
}
