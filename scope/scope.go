// Package scope carries multi-tenant identity (app and org) on a
// context.Context using the forge framework's scope. A tenant in a run maps
// to a forge org; the app is the deployment running the job.
package scope

import (
	"context"

	"github.com/xraph/forge"
)

// Capture extracts the app and org identifiers from the context.
// Returns empty strings if no scope is present.
func Capture(ctx context.Context) (appID, orgID string) {
	s, ok := forge.ScopeFrom(ctx)
	if !ok {
		return "", ""
	}
	return s.AppID(), s.OrgID()
}

// ForTenant attaches an org scope for tenantID under appID. With an empty
// tenantID only the app scope is attached; with both empty the context is
// returned unchanged.
func ForTenant(ctx context.Context, appID, tenantID string) context.Context {
	if appID == "" && tenantID == "" {
		return ctx
	}
	var s forge.Scope
	if tenantID != "" {
		s = forge.NewOrgScope(appID, tenantID)
	} else {
		s = forge.NewAppScope(appID)
	}
	return forge.WithScope(ctx, s)
}

// Tenant returns the org identifier of the scope on ctx.
func Tenant(ctx context.Context) string {
	_, orgID := Capture(ctx)
	return orgID
}
