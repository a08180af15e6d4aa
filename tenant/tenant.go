// Package tenant defines how a run learns its tenants and how each
// tenant's execution context is set up and torn down.
package tenant

import (
	"context"
	"slices"
)

// Provider lists the tenants a job should process, in the order a
// sequential run visits them. An error is an infrastructure failure that
// aborts the run.
type Provider interface {
	ListActiveTenantIDs(ctx context.Context, jobName string) ([]string, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, jobName string) ([]string, error)

// ListActiveTenantIDs calls f.
func (f ProviderFunc) ListActiveTenantIDs(ctx context.Context, jobName string) ([]string, error) {
	return f(ctx, jobName)
}

// Static returns a Provider that yields the same tenants for every job.
func Static(tenantIDs ...string) Provider {
	ids := slices.Clone(tenantIDs)
	return ProviderFunc(func(context.Context, string) ([]string, error) {
		return slices.Clone(ids), nil
	})
}

// PerJob returns a Provider backed by a fixed job-to-tenants table.
// Jobs missing from the table have no tenants.
func PerJob(table map[string][]string) Provider {
	cp := make(map[string][]string, len(table))
	for k, v := range table {
		cp[k] = slices.Clone(v)
	}
	return ProviderFunc(func(_ context.Context, jobName string) ([]string, error) {
		return slices.Clone(cp[jobName]), nil
	})
}

type ctxKey struct{}

// WithID returns a context carrying tenantID.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// IDFrom returns the tenant set up for this attempt, if any.
func IDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}
