package tenant

import (
	"context"

	"github.com/xraph/tenantrun/scope"
)

// Bridge sets up the execution context for one tenant attempt. The engine
// calls Teardown exactly once for every successful Setup, with the context
// Setup returned, whether or not the attempt succeeded.
type Bridge interface {
	Setup(ctx context.Context, tenantID string) (context.Context, error)
	Teardown(ctx context.Context) error
}

// NopBridge only records the tenant ID on the context.
type NopBridge struct{}

// Setup attaches tenantID to ctx.
func (NopBridge) Setup(ctx context.Context, tenantID string) (context.Context, error) {
	return WithID(ctx, tenantID), nil
}

// Teardown does nothing.
func (NopBridge) Teardown(context.Context) error { return nil }

// ScopeBridge attaches a forge org scope for the tenant under AppID, so
// forge-aware code (stores, clients) sees the tenant as the current org.
type ScopeBridge struct {
	AppID string
}

// Setup attaches the tenant's org scope and ID to ctx.
func (b ScopeBridge) Setup(ctx context.Context, tenantID string) (context.Context, error) {
	return WithID(scope.ForTenant(ctx, b.AppID, tenantID), tenantID), nil
}

// Teardown does nothing; the scope ends with the attempt's context.
func (ScopeBridge) Teardown(context.Context) error { return nil }

// BridgeFuncs adapts a pair of functions to a Bridge. A nil TeardownFunc
// is a no-op.
type BridgeFuncs struct {
	SetupFunc    func(ctx context.Context, tenantID string) (context.Context, error)
	TeardownFunc func(ctx context.Context) error
}

// Setup calls SetupFunc and records the tenant ID on the result.
func (b BridgeFuncs) Setup(ctx context.Context, tenantID string) (context.Context, error) {
	out, err := b.SetupFunc(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return WithID(out, tenantID), nil
}

// Teardown calls TeardownFunc.
func (b BridgeFuncs) Teardown(ctx context.Context) error {
	if b.TeardownFunc == nil {
		return nil
	}
	return b.TeardownFunc(ctx)
}
