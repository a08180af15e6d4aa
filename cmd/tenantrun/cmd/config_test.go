package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/tenantrun/engine"
	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/job"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
		t.Fatalf("read config: %v", err)
	}
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(newViper(t, "tenants:\n  static: [acme]\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Lock.Driver != "store" {
		t.Errorf("drivers = %q/%q, want memory/store", cfg.Store.Driver, cfg.Lock.Driver)
	}
	if cfg.Engine.LeaseDuration != 10*time.Minute || cfg.Engine.MaxAttempts != 3 {
		t.Errorf("engine defaults not applied: %+v", cfg.Engine)
	}
}

func TestLoadConfigParsesJobs(t *testing.T) {
	cfg, err := loadConfig(newViper(t, `
engine:
  lease_duration: 2m
  max_parallelism: 16
jobs:
  - name: nightly-report
    schedule: "0 2 * * *"
    webhook: https://reports.internal/run/{tenant}
    concurrency: parallel
    max_parallelism: 8
    max_attempts: 5
    timeout: 45s
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.LeaseDuration != 2*time.Minute || cfg.Engine.MaxParallelism != 16 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if len(cfg.Jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(cfg.Jobs))
	}
	j := cfg.Jobs[0]
	if j.Timeout != 45*time.Second || j.MaxAttempts != 5 || j.Concurrency != "parallel" {
		t.Errorf("job = %+v", j)
	}

	defs := jobDefinitions(cfg)
	if len(defs) != 1 {
		t.Fatalf("definitions = %d, want 1", len(defs))
	}
	d := defs[0]
	if d.Schedule != "0 2 * * *" || d.Opts.Concurrency != job.Parallel || d.Opts.MaxParallelism != 8 {
		t.Errorf("definition = %+v", d)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown store", "store:\n  driver: cassandra\n", "unknown store.driver"},
		{"missing dsn", "store:\n  driver: postgres\n", "store.dsn is required"},
		{"unknown lock", "lock:\n  driver: etcd\n", "unknown lock.driver"},
		{"job without webhook", "jobs:\n  - name: a\n", "webhook is required"},
		{"duplicate job", "jobs:\n  - {name: a, webhook: http://x}\n  - {name: a, webhook: http://y}\n", "duplicate job"},
		{"bad concurrency", "jobs:\n  - {name: a, webhook: http://x, concurrency: bursty}\n", "unknown concurrency"},
		{"shrinking backoff", "engine:\n  multiplier: 0.5\n", "engine.multiplier must be >= 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(newViper(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestBuildEngineRunsWebhookJob(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.HasSuffix(r.URL.Path, "/globex") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg, err := loadConfig(newViper(t, `
tenants:
  static: [acme, globex, initech]
engine:
  initial_interval: 1ms
  max_interval: 1ms
jobs:
  - name: sync
    webhook: `+srv.URL+`/sync/{tenant}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	eng, cl, err := buildEngine(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer cl.close()

	e, err := eng.Run(context.Background(), "sync")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.Status != execution.StatusPartialFailure || e.SuccessCount != 2 || e.FailedCount != 1 {
		t.Fatalf("execution = %+v", e)
	}
	// A 404 is a client error and is not retried.
	if got := calls.Load(); got != 3 {
		t.Errorf("webhook calls = %d, want 3", got)
	}

	tenants, err := eng.Tenants(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	var out bytes.Buffer
	p := &printer{w: &out}
	if err := p.execution(e, tenants); err != nil {
		t.Fatalf("print: %v", err)
	}
	for _, want := range []string{"partial_failure", "2 ok, 1 failed of 3", "globex", "http_client_error"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestBuildEngineNeedsTenants(t *testing.T) {
	cfg, err := loadConfig(newViper(t, "store:\n  driver: memory\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, _, err := buildEngine(context.Background(), cfg); err == nil {
		t.Fatal("expected an error without a tenant source")
	}
}

func TestAuditExtensionLogsTenantOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/globex") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg, err := loadConfig(newViper(t, `
tenants:
  static: [acme, globex]
audit:
  enabled: true
  actions: [tenant.failed, run.completed]
jobs:
  - name: sync
    webhook: `+srv.URL+`/sync/{tenant}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	eng, cl, err := buildEngine(context.Background(), cfg, engine.WithExtension(newAuditExtension(cfg.Audit)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer cl.close()

	if _, err := eng.Run(context.Background(), "sync"); err != nil {
		t.Fatalf("run: %v", err)
	}

	out := logs.String()
	for _, want := range []string{`"action":"tenant.failed"`, `"tenant_id":"globex"`, `"action":"run.completed"`, `"outcome":"partial"`} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, `"action":"tenant.succeeded"`) {
		t.Errorf("filtered action was recorded:\n%s", out)
	}
}
