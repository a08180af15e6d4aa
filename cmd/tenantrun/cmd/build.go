package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/engine"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/lock"
	lockk8s "github.com/xraph/tenantrun/lock/k8s"
	"github.com/xraph/tenantrun/retry"
	"github.com/xraph/tenantrun/store"
	bunstore "github.com/xraph/tenantrun/store/bun"
	"github.com/xraph/tenantrun/store/memory"
	mongostore "github.com/xraph/tenantrun/store/mongo"
	"github.com/xraph/tenantrun/store/postgres"
	redisstore "github.com/xraph/tenantrun/store/redis"
	"github.com/xraph/tenantrun/tenant"
	"github.com/xraph/tenantrun/tenant/pgtenant"
	"github.com/xraph/tenantrun/webhook"
)

// closers runs cleanup functions in reverse order.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// openStore connects the configured execution store.
func openStore(ctx context.Context, cfg storeConfig, cl *closers) (store.Store, error) {
	logger := slog.Default().With(slog.String("store", cfg.Driver))

	switch cfg.Driver {
	case "memory":
		return memory.New(), nil

	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = s.Close() })
		return s, nil

	case "bun":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		cl.add(func() { _ = db.Close() })
		return bunstore.New(db, bunstore.WithLogger(logger)), nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		cl.add(func() { _ = client.Close() })
		ropts := []redisstore.Option{redisstore.WithLogger(logger)}
		if cfg.Prefix != "" {
			ropts = append(ropts, redisstore.WithKeyPrefix(cfg.Prefix))
		}
		return redisstore.New(client, ropts...), nil

	case "mongo":
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		cl.add(func() { _ = client.Disconnect(context.Background()) })
		return mongostore.New(client.Database(cfg.Database), mongostore.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// openLockStore returns a separate lock store, or nil when the execution
// store also holds locks.
func openLockStore(cfg lockConfig) (lock.Store, error) {
	if cfg.Driver != "k8s" {
		return nil, nil
	}

	var (
		restCfg *rest.Config
		err     error
	)
	if cfg.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return lockk8s.New(client, cfg.Namespace, lockk8s.WithLogger(slog.Default())), nil
}

// openTenantProvider returns the static list or a Postgres-backed provider.
func openTenantProvider(ctx context.Context, cfg *fileConfig, cl *closers) (tenant.Provider, error) {
	if cfg.Tenants.Query == "" {
		if len(cfg.Tenants.Static) == 0 {
			return nil, tenantrun.ErrNoTenantProvider
		}
		return tenant.Static(cfg.Tenants.Static...), nil
	}

	dsn := cfg.Tenants.DSN
	if dsn == "" && (cfg.Store.Driver == "postgres" || cfg.Store.Driver == "bun") {
		dsn = cfg.Store.DSN
	}
	if dsn == "" {
		return nil, errors.New("tenants.dsn is required with tenants.query")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect tenant database: %w", err)
	}
	cl.add(pool.Close)
	return pgtenant.New(pool, pgtenant.WithQuery(cfg.Tenants.Query)), nil
}

// jobDefinitions turns the configured webhook jobs into definitions.
func jobDefinitions(cfg *fileConfig) []*job.Definition {
	classifier := retry.DefaultClassifier().With(webhook.Rules())

	defs := make([]*job.Definition, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		hopts := make([]webhook.Option, 0, len(j.Headers))
		for k, v := range j.Headers {
			hopts = append(hopts, webhook.WithHeader(k, v))
		}
		h := webhook.New(j.Name, j.Webhook, hopts...)

		opts := []job.Option{
			job.WithSchedule(j.Schedule),
			job.WithClassifier(classifier),
		}
		if strings.EqualFold(j.Concurrency, "parallel") {
			opts = append(opts, job.WithParallel(j.MaxParallelism))
		} else {
			opts = append(opts, job.WithSequential())
		}
		if j.MaxAttempts > 0 {
			opts = append(opts, job.WithMaxAttempts(j.MaxAttempts))
		}
		if j.Lease > 0 {
			opts = append(opts, job.WithLease(j.Lease))
		}
		if j.Timeout > 0 {
			opts = append(opts, job.WithTimeout(j.Timeout))
		}
		if j.TenantRate > 0 {
			opts = append(opts, job.WithTenantRate(j.TenantRate))
		}
		if j.ReleaseSlot {
			opts = append(opts, job.WithRetryWait(job.WaitReleaseSlot))
		}
		defs = append(defs, job.NewDefinition(j.Name, h.Func(), opts...))
	}
	return defs
}

// buildEngine wires an engine from cfg. Callers must run the returned
// closers once the engine has stopped.
func buildEngine(ctx context.Context, cfg *fileConfig, extra ...engine.Option) (*engine.Engine, closers, error) {
	var cl closers

	s, err := openStore(ctx, cfg.Store, &cl)
	if err != nil {
		cl.close()
		return nil, nil, err
	}
	provider, err := openTenantProvider(ctx, cfg, &cl)
	if err != nil {
		cl.close()
		return nil, nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(slog.Default()),
		engine.WithConfig(cfg.Engine.toConfig()),
		engine.WithTenantProvider(provider),
	}
	ls, err := openLockStore(cfg.Lock)
	if err != nil {
		cl.close()
		return nil, nil, err
	}
	if ls != nil {
		opts = append(opts, engine.WithLockStore(ls))
	}
	opts = append(opts, extra...)

	eng, err := engine.New(s, opts...)
	if err != nil {
		cl.close()
		return nil, nil, err
	}
	for _, def := range jobDefinitions(cfg) {
		if err := eng.Register(def); err != nil {
			cl.close()
			return nil, nil, err
		}
	}
	return eng, cl, nil
}

// currentConfig loads the global configuration.
func currentConfig() (*fileConfig, error) {
	return loadConfig(viper.GetViper())
}
