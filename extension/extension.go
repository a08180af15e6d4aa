// Package extension provides the Forge extension adapter for tenantrun.
//
// It implements the forge.Extension interface to integrate tenantrun
// into a Forge application with dependency registration, route
// registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tenantrun" or
// "tenantrun" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/api"
	"github.com/xraph/tenantrun/engine"
	"github.com/xraph/tenantrun/ext"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/lock"
	mw "github.com/xraph/tenantrun/middleware"
	"github.com/xraph/tenantrun/retry"
	"github.com/xraph/tenantrun/store"
	"github.com/xraph/tenantrun/tenant"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tenantrun"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Recurring multi-tenant job runner with fleet-wide run locks and per-tenant retries"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts tenantrun as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	eng        *engine.Engine
	apiHandler *api.API
	logger     *slog.Logger

	store      store.Store
	lockStore  lock.Store
	provider   tenant.Provider
	bridge     tenant.Bridge
	classifier *retry.Classifier
	jobs       []*job.Definition
	exts       []ext.Extension
	mws        []mw.Middleware
}

// New creates a tenantrun Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *engine.Engine { return e.eng }

// API returns the API handler.
func (e *Extension) API() *api.API { return e.apiHandler }

// Register implements [forge.Extension]. It builds the engine, registers
// the configured jobs and optionally mounts the HTTP routes.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.init(fapp); err != nil {
		return err
	}

	// Register the engine in the DI container so other extensions can use it.
	if err := vessel.Provide(fapp.Container(), func() (*engine.Engine, error) {
		return e.eng, nil
	}); err != nil {
		return fmt.Errorf("tenantrun: register engine in container: %w", err)
	}

	return nil
}

// init builds the engine.
func (e *Extension) init(fapp forge.App) error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	bridge := e.bridge
	if bridge == nil && e.config.ScopeAppID != "" {
		bridge = tenant.ScopeBridge{AppID: e.config.ScopeAppID}
	}

	engOpts := make([]engine.Option, 0, len(e.exts)+len(e.mws)+7)
	engOpts = append(engOpts,
		engine.WithLogger(logger),
		engine.WithConfig(e.config.Engine),
		engine.WithMetricFactory(fapp.Metrics()),
		engine.WithTenantProvider(e.provider),
	)
	if bridge != nil {
		engOpts = append(engOpts, engine.WithBridge(bridge))
	}
	if e.classifier != nil {
		engOpts = append(engOpts, engine.WithClassifier(e.classifier))
	}
	if e.lockStore != nil {
		engOpts = append(engOpts, engine.WithLockStore(e.lockStore))
	}
	for _, x := range e.exts {
		engOpts = append(engOpts, engine.WithExtension(x))
	}
	for _, m := range e.mws {
		engOpts = append(engOpts, engine.WithMiddleware(m))
	}

	eng, err := engine.New(e.store, engOpts...)
	if err != nil {
		return fmt.Errorf("tenantrun: build engine: %w", err)
	}
	for _, def := range e.jobs {
		if err := eng.Register(def); err != nil {
			return fmt.Errorf("tenantrun: %w", err)
		}
	}
	e.eng = eng

	// Create the API handler.
	e.apiHandler = api.New(e.eng, fapp.Router())

	// Register HTTP routes unless disabled.
	if !e.config.DisableRoutes {
		e.apiHandler.RegisterRoutes(fapp.Router().Group(e.config.BasePath))
	}

	return nil
}

// Start runs auto-migration if enabled and starts the cron trigger.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("tenantrun: extension not initialized")
	}

	// Run migrations unless disabled.
	if !e.config.DisableMigrate {
		if err := e.eng.Store().Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", tenantrun.ErrMigrationFailed, err)
		}
	}

	if !e.config.DisableScheduler {
		if err := e.eng.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop stops the trigger and waits for in-flight runs.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		e.MarkStopped()
		return nil
	}
	err := e.eng.Stop(ctx)
	e.MarkStopped()
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("tenantrun: extension not initialized")
	}
	return e.eng.Store().Ping(ctx)
}

// Handler returns the HTTP handler for all API routes.
// Convenience for standalone use outside Forge.
func (e *Extension) Handler() http.Handler {
	if e.apiHandler == nil {
		return http.NotFoundHandler()
	}
	return e.apiHandler.Handler()
}

// RegisterRoutes registers all tenantrun API routes into a Forge router.
func (e *Extension) RegisterRoutes(router forge.Router) {
	if e.apiHandler != nil {
		e.apiHandler.RegisterRoutes(router)
	}
}

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tenantrun: configuration is required but not found in config files; " +
				"ensure 'extensions.tenantrun' or 'tenantrun' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tenantrun: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_scheduler", e.config.DisableScheduler),
		forge.F("base_path", e.config.BasePath),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.tenantrun", "tenantrun"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("tenantrun: loaded config from file", forge.F("key", key))
			return cfg, true
		}
		e.Logger().Warn("tenantrun: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	cfg.Engine = mergeEngineConfig(cfg.Engine, defaults.Engine)
	return cfg
}

func mergeEngineConfig(cfg, defaults tenantrun.Config) tenantrun.Config {
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = defaults.LeaseDuration
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaults.InitialInterval
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaults.MaxInterval
	}
	if cfg.MaxParallelism == 0 {
		cfg.MaxParallelism = defaults.MaxParallelism
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableScheduler {
		yamlConfig.DisableScheduler = true
	}

	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.ScopeAppID == "" && programmaticConfig.ScopeAppID != "" {
		yamlConfig.ScopeAppID = programmaticConfig.ScopeAppID
	}
	yamlConfig.Engine = mergeEngineConfig(yamlConfig.Engine, programmaticConfig.Engine)

	return mergeWithDefaults(yamlConfig)
}
