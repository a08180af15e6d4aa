package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/tenantrun/retry"
)

// tracerName is the instrumentation scope name for tenantrun tracing.
const tracerName = "github.com/xraph/tenantrun"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span using the global TracerProvider. Without one the noop tracer makes
// this a pass-through.
//
// Span attributes: tenantrun.job, tenantrun.execution_id,
// tenantrun.tenant_id, tenantrun.attempt, and on failure
// tenantrun.error_kind.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		ctx, span := tracer.Start(ctx, "tenantrun.tenant.attempt",
			trace.WithAttributes(
				attribute.String("tenantrun.job", a.JobName),
				attribute.String("tenantrun.execution_id", a.ExecutionID),
				attribute.String("tenantrun.tenant_id", a.TenantID),
				attribute.Int("tenantrun.attempt", a.Number),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.SetAttributes(attribute.String("tenantrun.error_kind", string(retry.KindOf(err))))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
