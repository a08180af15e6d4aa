package extension

import (
	"log/slog"

	"github.com/xraph/tenantrun/ext"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/lock"
	mw "github.com/xraph/tenantrun/middleware"
	"github.com/xraph/tenantrun/retry"
	"github.com/xraph/tenantrun/store"
	"github.com/xraph/tenantrun/tenant"
)

// ExtOption configures the tenantrun Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) { e.store = s }
}

// WithLockStore sets a separate lock backend, such as Kubernetes Leases.
func WithLockStore(ls lock.Store) ExtOption {
	return func(e *Extension) { e.lockStore = ls }
}

// WithTenantProvider sets where runs get their active tenants.
func WithTenantProvider(p tenant.Provider) ExtOption {
	return func(e *Extension) { e.provider = p }
}

// WithBridge sets how each tenant attempt gets its context.
func WithBridge(b tenant.Bridge) ExtOption {
	return func(e *Extension) { e.bridge = b }
}

// WithClassifier sets the engine-wide failure classifier.
func WithClassifier(c *retry.Classifier) ExtOption {
	return func(e *Extension) { e.classifier = c }
}

// WithJob registers a job definition when the engine is built.
func WithJob(def *job.Definition) ExtOption {
	return func(e *Extension) { e.jobs = append(e.jobs, def) }
}

// WithExtension registers a tenantrun extension (lifecycle hooks).
func WithExtension(x ext.Extension) ExtOption {
	return func(e *Extension) { e.exts = append(e.exts, x) }
}

// WithMiddleware adds tenant attempt middleware to the engine.
func WithMiddleware(m mw.Middleware) ExtOption {
	return func(e *Extension) { e.mws = append(e.mws, m) }
}

// WithBasePath sets the URL prefix for all tenantrun routes.
func WithBasePath(path string) ExtOption {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes disables the registration of HTTP routes.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableScheduler keeps the cron trigger off.
func WithDisableScheduler() ExtOption {
	return func(e *Extension) { e.config.DisableScheduler = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) ExtOption {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithLogger sets the structured logger for the engine.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) { e.logger = l }
}
