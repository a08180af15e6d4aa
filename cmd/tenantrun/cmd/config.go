package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/tenantrun"
)

// fileConfig is the shape of tenantrun.yaml.
type fileConfig struct {
	LogLevel string        `mapstructure:"log_level"`
	Output   string        `mapstructure:"output"`
	Store    storeConfig   `mapstructure:"store"`
	Lock     lockConfig    `mapstructure:"lock"`
	Tenants  tenantsConfig `mapstructure:"tenants"`
	HTTP     httpConfig    `mapstructure:"http"`
	Alert    alertConfig   `mapstructure:"alert"`
	Audit    auditConfig   `mapstructure:"audit"`
	Engine   engineConfig  `mapstructure:"engine"`
	Jobs     []jobConfig   `mapstructure:"jobs"`
}

type storeConfig struct {
	// Driver is one of memory, postgres, bun, redis or mongo.
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
	Prefix   string `mapstructure:"prefix"`
}

type lockConfig struct {
	// Driver is "store" (the execution store holds locks) or "k8s".
	Driver     string `mapstructure:"driver"`
	Namespace  string `mapstructure:"namespace"`
	Kubeconfig string `mapstructure:"kubeconfig"`
}

type tenantsConfig struct {
	Static []string `mapstructure:"static"`
	// Query lists tenants from Postgres; DSN defaults to store.dsn.
	Query string `mapstructure:"query"`
	DSN   string `mapstructure:"dsn"`
}

type httpConfig struct {
	Addr    string `mapstructure:"addr"`
	Metrics bool   `mapstructure:"metrics"`
}

type alertConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	FailureRateThreshold float64 `mapstructure:"failure_rate_threshold"`
}

type auditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Actions limits the recorded actions; empty records all of them.
	Actions []string `mapstructure:"actions"`
}

type engineConfig struct {
	LeaseDuration   time.Duration `mapstructure:"lease_duration"`
	RenewInterval   time.Duration `mapstructure:"renew_interval"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Jitter          float64       `mapstructure:"jitter"`
	MaxParallelism  int           `mapstructure:"max_parallelism"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HistoryLimit    int           `mapstructure:"history_limit"`
}

type jobConfig struct {
	Name     string `mapstructure:"name"`
	Schedule string `mapstructure:"schedule"`
	// Webhook is posted once per tenant; "{tenant}" is substituted.
	Webhook        string            `mapstructure:"webhook"`
	Headers        map[string]string `mapstructure:"headers"`
	Concurrency    string            `mapstructure:"concurrency"`
	MaxParallelism int               `mapstructure:"max_parallelism"`
	MaxAttempts    int               `mapstructure:"max_attempts"`
	Lease          time.Duration     `mapstructure:"lease"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	TenantRate     float64           `mapstructure:"tenant_rate"`
	ReleaseSlot    bool              `mapstructure:"release_slot"`
}

// setDefaults registers defaults so that environment variables resolve
// even for keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := tenantrun.DefaultConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("output", "table")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.database", "tenantrun")
	v.SetDefault("store.prefix", "")
	v.SetDefault("lock.driver", "store")
	v.SetDefault("lock.namespace", "default")
	v.SetDefault("lock.kubeconfig", "")
	v.SetDefault("tenants.query", "")
	v.SetDefault("tenants.dsn", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.metrics", true)
	v.SetDefault("alert.enabled", true)
	v.SetDefault("alert.failure_rate_threshold", 0.0)
	v.SetDefault("audit.enabled", false)

	v.SetDefault("engine.lease_duration", d.LeaseDuration)
	v.SetDefault("engine.renew_interval", d.RenewInterval)
	v.SetDefault("engine.max_attempts", d.MaxAttempts)
	v.SetDefault("engine.initial_interval", d.InitialInterval)
	v.SetDefault("engine.multiplier", d.Multiplier)
	v.SetDefault("engine.max_interval", d.MaxInterval)
	v.SetDefault("engine.jitter", d.Jitter)
	v.SetDefault("engine.max_parallelism", d.MaxParallelism)
	v.SetDefault("engine.tick_interval", d.TickInterval)
	v.SetDefault("engine.shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("engine.history_limit", d.HistoryLimit)
}

// loadConfig decodes and validates v.
func loadConfig(v *viper.Viper) (*fileConfig, error) {
	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	switch cfg.Store.Driver {
	case "memory":
	case "postgres", "bun", "redis", "mongo":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver)
		}
	default:
		return nil, fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}

	switch cfg.Lock.Driver {
	case "store", "k8s":
	default:
		return nil, fmt.Errorf("unknown lock.driver %q", cfg.Lock.Driver)
	}

	if cfg.Engine.Multiplier < 1 {
		return nil, fmt.Errorf("engine.multiplier must be >= 1, got %v", cfg.Engine.Multiplier)
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		if j.Name == "" {
			return nil, fmt.Errorf("jobs[%d]: name is required", i)
		}
		if _, dup := seen[j.Name]; dup {
			return nil, fmt.Errorf("jobs[%d]: duplicate job %q", i, j.Name)
		}
		seen[j.Name] = struct{}{}
		if j.Webhook == "" {
			return nil, fmt.Errorf("job %q: webhook is required", j.Name)
		}
		switch j.Concurrency {
		case "", "sequential", "parallel":
		default:
			return nil, fmt.Errorf("job %q: unknown concurrency %q", j.Name, j.Concurrency)
		}
	}
	return &cfg, nil
}

func (c engineConfig) toConfig() tenantrun.Config {
	return tenantrun.Config{
		LeaseDuration:   c.LeaseDuration,
		RenewInterval:   c.RenewInterval,
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		Multiplier:      c.Multiplier,
		MaxInterval:     c.MaxInterval,
		Jitter:          c.Jitter,
		MaxParallelism:  c.MaxParallelism,
		TickInterval:    c.TickInterval,
		ShutdownTimeout: c.ShutdownTimeout,
		HistoryLimit:    c.HistoryLimit,
	}
}
