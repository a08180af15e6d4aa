package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/cron"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/ext"
	"github.com/xraph/tenantrun/id"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/lock"
	mw "github.com/xraph/tenantrun/middleware"
	"github.com/xraph/tenantrun/observability"
	"github.com/xraph/tenantrun/retry"
	"github.com/xraph/tenantrun/store"
	"github.com/xraph/tenantrun/tenant"
	"github.com/xraph/tenantrun/throttle"
	"github.com/xraph/tenantrun/worker"
)

const instrumentationName = "github.com/xraph/tenantrun"

// Engine runs recurring multi-tenant jobs.
type Engine struct {
	cfg        tenantrun.Config
	store      store.Store
	lockStore  lock.Store
	locks      *lock.Manager
	states     *execution.Manager
	registry   *job.Registry
	provider   tenant.Provider
	bridge     tenant.Bridge
	classifier *retry.Classifier
	extensions *ext.Registry
	exts       []ext.Extension
	mws        []mw.Middleware
	executor   *worker.Executor
	throttle   *throttle.Manager
	scheduler  *cron.Scheduler
	logger     *slog.Logger
	now        func() time.Time

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer

	// metricFactory feeds the observability extension (optional).
	metricFactory gu.MetricFactory

	mu       sync.Mutex
	started  bool
	stopped  bool
	inflight sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithConfig sets the engine-wide defaults.
func WithConfig(cfg tenantrun.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithRegistry uses an existing job registry instead of an empty one.
func WithRegistry(r *job.Registry) Option {
	return func(eng *Engine) { eng.registry = r }
}

// WithTenantProvider sets where runs get their active tenants.
func WithTenantProvider(p tenant.Provider) Option {
	return func(eng *Engine) { eng.provider = p }
}

// WithBridge sets how each tenant attempt gets its context. The default
// only records the tenant ID.
func WithBridge(b tenant.Bridge) Option {
	return func(eng *Engine) { eng.bridge = b }
}

// WithClassifier sets the engine-wide failure classifier. Jobs may
// override it with job.WithClassifier.
func WithClassifier(c *retry.Classifier) Option {
	return func(eng *Engine) { eng.classifier = c }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the default middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithLockStore overrides the lock backend, for example with a Kubernetes
// Lease store, while executions stay in the main store.
func WithLockStore(ls lock.Store) Option {
	return func(eng *Engine) { eng.lockStore = ls }
}

// WithThrottle configures tenant start rates up front. Jobs with
// job.WithTenantRate configure their own.
func WithThrottle(configs ...throttle.Config) Option {
	return func(eng *Engine) { eng.throttle = throttle.NewManager(configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, run spans and the tracing middleware use this provider
// instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// WithMetricFactory sets the go-utils metric factory behind the
// observability extension.
func WithMetricFactory(f gu.MetricFactory) Option {
	return func(eng *Engine) { eng.metricFactory = f }
}

// WithClock overrides the time source used for recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.now = now }
}

// New creates an Engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, tenantrun.ErrNoStore
	}

	eng := &Engine{
		cfg:        tenantrun.DefaultConfig(),
		store:      s,
		classifier: retry.DefaultClassifier(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.provider == nil {
		return nil, tenantrun.ErrNoTenantProvider
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}
	if eng.registry == nil {
		eng.registry = job.NewRegistryWithConfig(eng.cfg)
	}
	if eng.lockStore == nil {
		eng.lockStore = s
	}
	if eng.throttle == nil {
		eng.throttle = throttle.NewManager()
	}
	if eng.tracerProvider == nil {
		eng.tracerProvider = otel.GetTracerProvider()
	}
	if eng.meterProvider == nil {
		eng.meterProvider = otel.GetMeterProvider()
	}
	eng.tracer = eng.tracerProvider.Tracer(instrumentationName)

	// Extensions: observability first so user extensions see the same
	// ordering on every engine.
	eng.extensions = ext.NewRegistry(eng.logger)
	if eng.metricFactory != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithFactory(eng.metricFactory))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}
	for _, x := range eng.exts {
		eng.extensions.Register(x)
	}

	var stateOpts []execution.ManagerOption
	if eng.now != nil {
		stateOpts = append(stateOpts, execution.WithClock(eng.now))
	}
	eng.locks = lock.NewManager(eng.lockStore, eng.logger)
	eng.states = execution.NewManager(s, eng.logger, stateOpts...)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		mw.TracingWithTracer(eng.tracer),
		mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName)),
		mw.Logging(eng.logger),
		mw.Timeout(),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.executor = worker.NewExecutor(eng.states, eng.extensions, eng.bridge, eng.classifier, eng.logger, allMws...)

	schedOpts := []cron.SchedulerOption{cron.WithTickInterval(eng.cfg.TickInterval)}
	if eng.now != nil {
		schedOpts = append(schedOpts, cron.WithClock(eng.now))
	}
	eng.scheduler = cron.NewScheduler(eng.registry, eng.trigger, eng.extensions, eng.logger, schedOpts...)

	return eng, nil
}

// Register validates def, including its schedule, and adds it to the
// job registry.
func (eng *Engine) Register(def *job.Definition) error {
	if def != nil && def.Schedule != "" {
		if err := cron.Validate(def.Schedule); err != nil {
			return fmt.Errorf("%w: job %q: %w", tenantrun.ErrInvalidJob, def.Name, err)
		}
	}
	if err := eng.registry.Register(def); err != nil {
		return err
	}
	eng.throttle.Ensure(def.Name, def.Opts.TenantRate)
	return nil
}

// Reload atomically replaces every job definition.
func (eng *Engine) Reload(defs ...*job.Definition) error {
	for _, def := range defs {
		if def != nil && def.Schedule != "" {
			if err := cron.Validate(def.Schedule); err != nil {
				return fmt.Errorf("%w: job %q: %w", tenantrun.ErrInvalidJob, def.Name, err)
			}
		}
	}
	previous := eng.registry.Names()
	if err := eng.registry.Reload(defs...); err != nil {
		return err
	}
	// Limiters follow the new definitions; removed jobs lose theirs.
	kept := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		kept[def.Name] = struct{}{}
		eng.throttle.Ensure(def.Name, def.Opts.TenantRate)
	}
	for _, name := range previous {
		if _, ok := kept[name]; !ok {
			eng.throttle.Ensure(name, 0)
		}
	}
	return nil
}

// Start starts the cron trigger for scheduled jobs.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return tenantrun.ErrEngineStopped
	}
	eng.started = true
	eng.mu.Unlock()

	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	eng.logger.Info("tenantrun engine started",
		slog.Int("jobs", len(eng.registry.Names())),
		slog.Int("scheduled", len(eng.registry.Scheduled())),
	)
	return nil
}

// Stop stops the trigger and waits for in-flight runs, bounded by ctx or,
// when ctx has no deadline, by Config.ShutdownTimeout. Locks of runs that
// are still going when the wait ends are left to expire.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.stopped {
		eng.mu.Unlock()
		return nil
	}
	eng.stopped = true
	eng.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	var stopErr error
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
		stopErr = err
	}

	done := make(chan struct{})
	go func() {
		eng.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		eng.logger.Warn("engine stop timed out with runs in flight; their locks will expire")
		stopErr = ctx.Err()
	}

	eng.extensions.EmitShutdown(ctx)
	eng.logger.Info("tenantrun engine stopped")
	return stopErr
}

// trigger is the cron RunFunc.
func (eng *Engine) trigger(ctx context.Context, jobName string) {
	if _, err := eng.Run(ctx, jobName); err != nil {
		eng.logger.Error("scheduled run failed",
			slog.String("job", jobName),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Latest returns the most recent execution of a job.
func (eng *Engine) Latest(ctx context.Context, jobName string) (*execution.Execution, error) {
	return eng.states.Latest(ctx, jobName)
}

// History returns up to limit executions of a job, most recent first.
// A limit of zero uses Config.HistoryLimit.
func (eng *Engine) History(ctx context.Context, jobName string, limit int) ([]*execution.Execution, error) {
	if limit == 0 {
		limit = eng.cfg.HistoryLimit
	}
	return eng.states.History(ctx, jobName, limit)
}

// Execution returns an execution by ID.
func (eng *Engine) Execution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	return eng.states.Get(ctx, execID)
}

// Tenants returns every tenant outcome of a run, in start order.
func (eng *Engine) Tenants(ctx context.Context, execID id.ExecutionID) ([]*execution.TenantExecution, error) {
	return eng.states.Tenants(ctx, execID)
}

// Lock returns the current holder of a job's lock, or
// tenantrun.ErrLockNotFound when the job is not running anywhere.
func (eng *Engine) Lock(ctx context.Context, jobName string) (*lock.Lock, error) {
	return eng.locks.Get(ctx, jobName)
}

// Schedule returns the cron trigger's view of scheduled jobs.
func (eng *Engine) Schedule() []cron.Entry { return eng.scheduler.Entries() }

// Config returns the engine-wide defaults.
func (eng *Engine) Config() tenantrun.Config { return eng.cfg }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Throttle returns the tenant start rate limiter.
func (eng *Engine) Throttle() *throttle.Manager { return eng.throttle }
