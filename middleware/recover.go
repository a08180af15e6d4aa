package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/tenantrun/retry"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics become failures of kind retry.KindPanic and are logged with a
// stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("tenant handler panicked",
					slog.String("job", a.JobName),
					slog.String("tenant", a.TenantID),
					slog.Int("attempt", a.Number),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = retry.Failure(retry.KindPanic, fmt.Sprintf("panic in job %s for tenant %s: %v", a.JobName, a.TenantID, r))
			}
		}()
		return next(ctx)
	}
}
