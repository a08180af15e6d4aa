// Package middleware provides composable middleware around tenant attempts.
// Middleware wraps each call of a job's handler for one tenant and can
// recover panics, bound the attempt, log, trace or measure it.
package middleware

import (
	"context"
	"time"
)

// Handler is the terminal function that runs one tenant attempt.
type Handler func(ctx context.Context) error

// Attempt describes the tenant attempt being executed.
type Attempt struct {
	JobName     string
	ExecutionID string
	TenantID    string

	// Number is the 1-indexed attempt for this tenant.
	Number      int
	MaxAttempts int

	// Timeout bounds the attempt. Zero means no limit.
	Timeout time.Duration
}

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the attempt being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, a *Attempt, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, a, prev)
			}
		}
		return h(ctx)
	}
}
