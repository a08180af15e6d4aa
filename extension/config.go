package extension

import "github.com/xraph/tenantrun"

// Config holds configuration for the tenantrun Forge extension.
type Config struct {
	// BasePath is the URL prefix for all tenantrun API routes.
	BasePath string `default:"/api/tenantrun" json:"base_path"`

	// DisableRoutes disables the registration of HTTP routes.
	// Useful when embedding tenantrun for background processing only.
	DisableRoutes bool `default:"false" json:"disable_routes"`

	// DisableMigrate disables auto-migration on start.
	DisableMigrate bool `default:"false" json:"disable_migrate"`

	// DisableScheduler keeps the cron trigger off. Jobs then only run
	// through the API or Engine.Run.
	DisableScheduler bool `default:"false" json:"disable_scheduler"`

	// ScopeAppID, when set and no bridge is configured, runs each tenant
	// under a forge org scope for that app.
	ScopeAppID string `json:"scope_app_id"`

	// RequireConfig makes Register fail when no config key is found.
	RequireConfig bool `json:"-"`

	// Engine holds the engine-wide defaults. Zero fields keep
	// tenantrun.DefaultConfig values.
	Engine tenantrun.Config `json:"engine"`
}

// DefaultConfig returns the default extension configuration.
func DefaultConfig() Config {
	return Config{
		BasePath: "/api/tenantrun",
		Engine:   tenantrun.DefaultConfig(),
	}
}
