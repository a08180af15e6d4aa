package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/engine"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/retry"
	"github.com/xraph/tenantrun/store/memory"
	"github.com/xraph/tenantrun/tenant"
	"github.com/xraph/tenantrun/throttle"
)

var fastRetry = job.WithRetry(retry.Policy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	Multiplier:      2,
	MaxInterval:     4 * time.Millisecond,
})

func newEngine(t *testing.T, provider tenant.Provider, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]engine.Option{engine.WithTenantProvider(provider)}, opts...)
	eng, err := engine.New(s, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, s
}

func mustRegister(t *testing.T, eng *engine.Engine, def *job.Definition) {
	t.Helper()
	if err := eng.Register(def); err != nil {
		t.Fatalf("register %s: %v", def.Name, err)
	}
}

func TestNew_RequiresStoreAndProvider(t *testing.T) {
	if _, err := engine.New(nil, engine.WithTenantProvider(tenant.Static())); !errors.Is(err, tenantrun.ErrNoStore) {
		t.Errorf("nil store: got %v, want ErrNoStore", err)
	}
	if _, err := engine.New(memory.New()); !errors.Is(err, tenantrun.ErrNoTenantProvider) {
		t.Errorf("nil provider: got %v, want ErrNoTenantProvider", err)
	}
}

func TestRegister_RejectsBadSchedule(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static())
	err := eng.Register(job.NewDefinition("nightly", func(context.Context, string) error { return nil },
		job.WithSchedule("not a cron"),
	))
	if !errors.Is(err, tenantrun.ErrInvalidJob) {
		t.Fatalf("got %v, want ErrInvalidJob", err)
	}
}

func TestRun_UnknownJob(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static("acme"))
	if _, err := eng.Run(context.Background(), "missing"); !errors.Is(err, tenantrun.ErrJobNotFound) {
		t.Fatalf("got %v, want ErrJobNotFound", err)
	}
}

func TestRun_Aggregation(t *testing.T) {
	tests := []struct {
		name    string
		tenants []string
		failing map[string]bool
		status  execution.Status
		success int
		failed  int
	}{
		{"no tenants", nil, nil, execution.StatusSuccess, 0, 0},
		{"all succeed", []string{"a", "b", "c"}, nil, execution.StatusSuccess, 3, 0},
		{"some fail", []string{"a", "b", "c", "d"}, map[string]bool{"b": true, "d": true}, execution.StatusPartialFailure, 2, 2},
		{"all fail", []string{"a", "b"}, map[string]bool{"a": true, "b": true}, execution.StatusFailed, 0, 2},
	}

	for _, tt := range tests {
		for _, mode := range []job.Option{job.WithSequential(), job.WithParallel(2)} {
			t.Run(tt.name, func(t *testing.T) {
				eng, _ := newEngine(t, tenant.Static(tt.tenants...))
				mustRegister(t, eng, job.NewDefinition("sweep", func(_ context.Context, tenantID string) error {
					if tt.failing[tenantID] {
						return retry.Failure("validation", "bad data for "+tenantID)
					}
					return nil
				}, mode, fastRetry, job.WithClassifier(retry.DefaultClassifier().With(map[retry.Kind]retry.Class{
					"validation": retry.NonRetryable,
				}))))

				e, err := eng.Run(context.Background(), "sweep")
				if err != nil {
					t.Fatalf("run: %v", err)
				}
				if e.Status != tt.status || e.SuccessCount != tt.success || e.FailedCount != tt.failed {
					t.Fatalf("got %s %d/%d, want %s %d/%d", e.Status, e.SuccessCount, e.FailedCount, tt.status, tt.success, tt.failed)
				}
				if e.TotalTenants != len(tt.tenants) {
					t.Errorf("total = %d, want %d", e.TotalTenants, len(tt.tenants))
				}
				if e.FinishedAt == nil {
					t.Error("finished_at not set")
				}
			})
		}
	}
}

func TestRun_FlakyTenantSucceedsOnThirdAttempt(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static("A", "B", "C"))
	var calls sync.Map
	mustRegister(t, eng, job.NewDefinition("sweep", func(_ context.Context, tenantID string) error {
		v, _ := calls.LoadOrStore(tenantID, new(atomic.Int32))
		n := v.(*atomic.Int32).Add(1)
		if tenantID == "B" && n < 3 {
			return retry.Failure("timeout", "upstream slow")
		}
		return nil
	}, fastRetry))

	e, err := eng.Run(context.Background(), "sweep")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Status != execution.StatusSuccess || e.SuccessCount != 3 {
		t.Fatalf("got %s success=%d", e.Status, e.SuccessCount)
	}

	tenants, err := eng.Tenants(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	for _, te := range tenants {
		want := 1
		if te.TenantID == "B" {
			want = 3
		}
		if te.Status != execution.TenantSuccess || te.AttemptCount != want {
			t.Errorf("tenant %s: %s attempts=%d, want success attempts=%d", te.TenantID, te.Status, te.AttemptCount, want)
		}
	}
}

func TestRun_ConcurrentTriggerIsSkipped(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static("acme"))
	entered := make(chan struct{})
	release := make(chan struct{})
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error {
		close(entered)
		<-release
		return nil
	}))

	type result struct {
		e   *execution.Execution
		err error
	}
	first := make(chan result, 1)
	go func() {
		e, err := eng.Run(context.Background(), "sweep")
		first <- result{e, err}
	}()
	<-entered

	second, err := eng.Run(context.Background(), "sweep")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Status != execution.StatusSkipped || second.FinishedAt == nil {
		t.Fatalf("second run = %s, want skipped", second.Status)
	}

	close(release)
	r := <-first
	if r.err != nil || r.e.Status != execution.StatusSuccess {
		t.Fatalf("first run = %+v, %v", r.e, r.err)
	}

	// Lock is released once the run finishes.
	if _, err := eng.Lock(context.Background(), "sweep"); !errors.Is(err, tenantrun.ErrLockNotFound) {
		t.Fatalf("lock after run: %v", err)
	}
}

func TestRun_ProviderFailureAbortsRun(t *testing.T) {
	boom := errors.New("tenant directory unreachable")
	eng, s := newEngine(t, tenant.ProviderFunc(func(context.Context, string) ([]string, error) {
		return nil, boom
	}))
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error { return nil }))

	e, err := eng.Run(context.Background(), "sweep")
	if !errors.Is(err, tenantrun.ErrInfrastructure) || !errors.Is(err, boom) {
		t.Fatalf("got %v, want infrastructure error wrapping cause", err)
	}
	if e == nil || e.Status != execution.StatusFailed || e.TotalTenants != 0 {
		t.Fatalf("execution = %+v", e)
	}

	tenants, err := eng.Tenants(context.Background(), e.ID)
	if err != nil || len(tenants) != 0 {
		t.Fatalf("tenant rows = %d, %v", len(tenants), err)
	}
	if _, err := s.GetLock(context.Background(), "sweep"); !errors.Is(err, tenantrun.ErrLockNotFound) {
		t.Fatalf("lock not released: %v", err)
	}
}

func TestRun_RecoversAbandonedExecutions(t *testing.T) {
	eng, s := newEngine(t, tenant.Static("acme"))
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error { return nil }))

	ctx := context.Background()
	stale := execution.NewManager(s, nil)
	orphan, err := stale.Start(ctx, "sweep", "hold_crashed")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := eng.Run(ctx, "sweep"); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := eng.Execution(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("get orphan: %v", err)
	}
	if got.Status != execution.StatusFailed || got.Error != execution.AbandonedReason {
		t.Fatalf("orphan = %s %q", got.Status, got.Error)
	}
}

func TestRun_ExpiredLeaseKeepsReclaimedOutcome(t *testing.T) {
	eng, s := newEngine(t, tenant.Static("acme"))
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	}, job.WithLease(50*time.Millisecond)))

	type result struct {
		e   *execution.Execution
		err error
	}
	slow := make(chan result, 1)
	go func() {
		e, err := eng.Run(context.Background(), "sweep")
		slow <- result{e, err}
	}()
	<-entered

	// The slow run's lease lapses; the next trigger takes the lock and
	// closes the slow run as abandoned.
	time.Sleep(120 * time.Millisecond)
	next, err := eng.Run(context.Background(), "sweep")
	if err != nil || next.Status != execution.StatusSuccess {
		t.Fatalf("next run = %+v, %v", next, err)
	}

	close(release)
	r := <-slow
	if !errors.Is(r.err, tenantrun.ErrExecutionReclaimed) {
		t.Fatalf("slow run err = %v, want ErrExecutionReclaimed", r.err)
	}
	if r.e.Status != execution.StatusFailed {
		t.Errorf("slow run returned %s, want the stored failed outcome", r.e.Status)
	}

	got, err := s.GetExecution(context.Background(), r.e.ID)
	if err != nil {
		t.Fatalf("get slow run: %v", err)
	}
	if got.Status != execution.StatusFailed || got.Error != execution.AbandonedReason {
		t.Fatalf("slow run stored as %s %q, want failed/abandoned", got.Status, got.Error)
	}
}

func TestReload_DropsTenantRate(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static("acme", "globex", "initech"))
	handler := func(context.Context, string) error { return nil }
	mustRegister(t, eng, job.NewDefinition("sweep", handler, job.WithTenantRate(2)))

	ctx := context.Background()
	start := time.Now()
	if _, err := eng.Run(ctx, "sweep"); err != nil {
		t.Fatalf("rated run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("rated run took %v, want paced starts", elapsed)
	}

	if err := eng.Reload(job.NewDefinition("sweep", handler)); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if r := eng.Throttle().Rate("sweep"); r != 0 {
		t.Fatalf("rate after reload = %v, want 0", r)
	}

	start = time.Now()
	if _, err := eng.Run(ctx, "sweep"); err != nil {
		t.Fatalf("unrated run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("run after reload took %v, limiter still applied", elapsed)
	}
}

func TestRun_ThrottleConfigSurvivesUnratedJob(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static("acme", "globex"),
		engine.WithThrottle(throttle.Config{Job: "sweep", Rate: 0.5, Burst: 2}),
	)
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error { return nil }))

	if _, err := eng.Run(context.Background(), "sweep"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r := eng.Throttle().Rate("sweep"); r != 0.5 {
		t.Fatalf("rate = %v, want the configured 0.5", r)
	}
}

func TestRun_DuplicateTenantsRunOnce(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static("acme", "globex", "acme"))
	var calls atomic.Int32
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error {
		calls.Add(1)
		return nil
	}))

	e, err := eng.Run(context.Background(), "sweep")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 2 || e.TotalTenants != 2 {
		t.Fatalf("calls=%d total=%d, want 2/2", calls.Load(), e.TotalTenants)
	}
}

func TestRun_CancelledRunIsFailed(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static("a", "b", "c"))
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error {
		if started.Add(1) == 1 {
			cancel()
		}
		return nil
	}, job.WithSequential()))

	e, err := eng.Run(ctx, "sweep")
	if err == nil || errors.Is(err, tenantrun.ErrInfrastructure) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want cancellation error", err)
	}
	if e.Status != execution.StatusFailed || e.SuccessCount != 1 {
		t.Fatalf("execution = %s success=%d", e.Status, e.SuccessCount)
	}
	if started.Load() != 1 {
		t.Errorf("started %d tenants after cancel, want 1", started.Load())
	}
}

func TestRun_StoreFailureIsInfrastructure(t *testing.T) {
	s := &failingStore{Store: memory.New(), failCreate: true}
	eng, err := engine.New(s, engine.WithTenantProvider(tenant.Static("acme")))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error { return nil }))

	if _, err := eng.Run(context.Background(), "sweep"); !errors.Is(err, tenantrun.ErrInfrastructure) {
		t.Fatalf("got %v, want ErrInfrastructure", err)
	}
	if _, err := s.GetLock(context.Background(), "sweep"); !errors.Is(err, tenantrun.ErrLockNotFound) {
		t.Fatalf("lock not released: %v", err)
	}
}

func TestHistory_MostRecentFirstAndBounded(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static("acme"))
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error { return nil }))

	ctx := context.Background()
	var ids []string
	for range 4 {
		e, err := eng.Run(ctx, "sweep")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		ids = append(ids, e.ID.String())
	}

	hist, err := eng.History(ctx, "sweep", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3", len(hist))
	}
	for i, e := range hist {
		if want := ids[len(ids)-1-i]; e.ID.String() != want {
			t.Errorf("history[%d] = %s, want %s", i, e.ID, want)
		}
	}

	latest, err := eng.Latest(ctx, "sweep")
	if err != nil || latest.ID.String() != ids[len(ids)-1] {
		t.Fatalf("latest = %v, %v", latest, err)
	}
}

func TestRun_TracingSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	eng, _ := newEngine(t, tenant.Static("acme"), engine.WithTracerProvider(tp))
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error { return nil }))

	if _, err := eng.Run(context.Background(), "sweep"); err != nil {
		t.Fatalf("run: %v", err)
	}

	var runSpans, tenantSpans int
	for _, s := range exporter.GetSpans() {
		switch s.Name {
		case "tenantrun.run":
			runSpans++
		case "tenantrun.tenant.attempt":
			tenantSpans++
		}
	}
	if runSpans != 1 {
		t.Errorf("run spans = %d, want 1", runSpans)
	}
	if tenantSpans != 1 {
		t.Errorf("tenant spans = %d, want 1", tenantSpans)
	}
}

func TestStop_RejectsNewRuns(t *testing.T) {
	eng, _ := newEngine(t, tenant.Static("acme"))
	mustRegister(t, eng, job.NewDefinition("sweep", func(context.Context, string) error { return nil },
		job.WithSchedule("@every 1h"),
	))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := eng.Run(ctx, "sweep"); !errors.Is(err, tenantrun.ErrEngineStopped) {
		t.Fatalf("run after stop: %v", err)
	}
	if err := eng.Start(ctx); !errors.Is(err, tenantrun.ErrEngineStopped) {
		t.Fatalf("start after stop: %v", err)
	}
}

// failingStore fails execution writes.
type failingStore struct {
	*memory.Store
	failCreate bool
}

func (f *failingStore) CreateExecution(ctx context.Context, e *execution.Execution) error {
	if f.failCreate {
		return fmt.Errorf("connection reset")
	}
	return f.Store.CreateExecution(ctx, e)
}
