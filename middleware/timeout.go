package middleware

import (
	"context"
	"fmt"
)

// Timeout returns middleware that enforces the attempt's deadline. When
// the deadline passes the context is cancelled; a handler that honours it
// returns context.DeadlineExceeded, which classifies as a timeout.
func Timeout() Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		if a.Timeout <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, a.Timeout)
		defer cancel()

		err := next(ctx)
		if err == nil && ctx.Err() != nil {
			// The handler finished but ignored cancellation; the work
			// still overran its budget.
			return fmt.Errorf("tenant %s attempt %d: %w", a.TenantID, a.Number, ctx.Err())
		}
		return err
	}
}
