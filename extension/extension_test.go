package extension_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	forgetesting "github.com/xraph/forge/testing"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/extension"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/store/memory"
	"github.com/xraph/tenantrun/tenant"
)

func sweepJob() *job.Definition {
	return job.NewDefinition("sweep", func(context.Context, string) error { return nil })
}

// ──────────────────────────────────────────────────
// Metadata
// ──────────────────────────────────────────────────

func TestExtension_Metadata(t *testing.T) {
	ext := extension.New()

	if ext.Name() != extension.ExtensionName {
		t.Errorf("Name() = %q, want %q", ext.Name(), extension.ExtensionName)
	}
	if ext.Description() != extension.ExtensionDescription {
		t.Errorf("Description() = %q, want %q", ext.Description(), extension.ExtensionDescription)
	}
	if ext.Version() != extension.ExtensionVersion {
		t.Errorf("Version() = %q, want %q", ext.Version(), extension.ExtensionVersion)
	}
	if deps := ext.Dependencies(); len(deps) != 0 {
		t.Errorf("Dependencies() = %v, want empty", deps)
	}
}

// ──────────────────────────────────────────────────
// Register → Engine + API initialized, jobs registered
// ──────────────────────────────────────────────────

func TestExtension_Register(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithTenantProvider(tenant.Static("acme")),
		extension.WithJob(sweepJob()),
	)

	fapp := forgetesting.NewTestApp("test-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if ext.Engine() == nil {
		t.Fatal("expected engine to be initialized after Register")
	}
	if ext.API() == nil {
		t.Fatal("expected API handler to be initialized after Register")
	}
	if _, ok := ext.Engine().Registry().Get("sweep"); !ok {
		t.Fatal("expected job to be registered")
	}
}

// ──────────────────────────────────────────────────
// Full lifecycle: Register → Start → Run → Health → Stop
// ──────────────────────────────────────────────────

func TestExtension_Lifecycle(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithTenantProvider(tenant.Static("acme", "globex")),
		extension.WithJob(sweepJob()),
		extension.WithConfig(extension.Config{ScopeAppID: "billing"}),
	)

	fapp := forgetesting.NewTestApp("lifecycle-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	e, err := ext.Engine().Run(ctx, "sweep")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.Status != execution.StatusSuccess || e.SuccessCount != 2 {
		t.Errorf("execution = %s success=%d", e.Status, e.SuccessCount)
	}

	if err := ext.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := ext.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestExtension_StartBeforeRegister(t *testing.T) {
	if err := extension.New().Start(context.Background()); err == nil {
		t.Fatal("expected error when starting before Register")
	}
}

func TestExtension_HealthBeforeRegister(t *testing.T) {
	if err := extension.New().Health(context.Background()); err == nil {
		t.Fatal("expected error when checking health before Register")
	}
}

func TestExtension_StopBeforeRegister(t *testing.T) {
	if err := extension.New().Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Register should be no-op, got: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Missing dependencies
// ──────────────────────────────────────────────────

func TestExtension_RegisterMissingDeps(t *testing.T) {
	tests := []struct {
		name string
		opts []extension.ExtOption
		want error
	}{
		{"no store", []extension.ExtOption{extension.WithTenantProvider(tenant.Static())}, tenantrun.ErrNoStore},
		{"no provider", []extension.ExtOption{extension.WithStore(memory.New())}, tenantrun.ErrNoTenantProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fapp := forgetesting.NewTestApp("missing-deps-app", "0.1.0")
			err := extension.New(tt.opts...).Register(fapp)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExtension_InvalidJobSchedule(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithTenantProvider(tenant.Static()),
		extension.WithJob(job.NewDefinition("bad", func(context.Context, string) error { return nil },
			job.WithSchedule("every tuesday"),
		)),
	)
	fapp := forgetesting.NewTestApp("bad-job-app", "0.1.0")
	if err := ext.Register(fapp); !errors.Is(err, tenantrun.ErrInvalidJob) {
		t.Fatalf("got %v, want ErrInvalidJob", err)
	}
}

func TestExtension_DisableMigrateAndScheduler(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithTenantProvider(tenant.Static()),
		extension.WithDisableMigrate(),
		extension.WithDisableScheduler(),
	)

	fapp := forgetesting.NewTestApp("no-migrate-app", "0.1.0")
	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := ext.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Handler returns working HTTP handler (standalone)
// ──────────────────────────────────────────────────

func TestExtension_Handler(t *testing.T) {
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithTenantProvider(tenant.Static("acme")),
		extension.WithJob(sweepJob()),
		extension.WithDisableRoutes(), // Disable auto-registration so Handler() can register.
	)

	fapp := forgetesting.NewTestApp("handler-app", "0.1.0")
	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := httptest.NewRecorder()
	ext.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/jobs = %d", rec.Code)
	}
}

func TestExtension_HandlerBeforeRegister(t *testing.T) {
	if h := extension.New().Handler(); h == nil {
		t.Fatal("expected non-nil handler even before Register (should be NotFoundHandler)")
	}
}
