package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/job"
	"github.com/xraph/tenantrun/retry"
)

func noop(context.Context, string) error { return nil }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	def := job.NewDefinition("invoice-sweep", noop,
		job.WithSchedule("@every 1m"),
		job.WithParallel(8),
	)
	if err := r.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, ok := r.Get("invoice-sweep")
	if !ok {
		t.Fatal("expected definition to be registered")
	}
	if got.Schedule != "@every 1m" {
		t.Errorf("Schedule = %q", got.Schedule)
	}
	if got.Opts.Concurrency != job.Parallel || got.Opts.MaxParallelism != 8 {
		t.Errorf("concurrency = %v/%d, want parallel/8", got.Opts.Concurrency, got.Opts.MaxParallelism)
	}
}

func TestRegistry_FillsDefaults(t *testing.T) {
	cfg := tenantrun.DefaultConfig()
	cfg.LeaseDuration = 42 * time.Second
	cfg.MaxAttempts = 7
	r := job.NewRegistryWithConfig(cfg)

	if err := r.Register(job.NewDefinition("a", noop)); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, _ := r.Get("a")
	if got.Opts.LeaseDuration != 42*time.Second {
		t.Errorf("lease = %v, want 42s", got.Opts.LeaseDuration)
	}
	if got.Opts.Retry == nil || got.Opts.Retry.MaxAttempts != 7 {
		t.Errorf("retry = %+v, want 7 attempts", got.Opts.Retry)
	}
	if got.Opts.Concurrency != job.Sequential {
		t.Errorf("concurrency = %v, want sequential", got.Opts.Concurrency)
	}
}

func TestRegistry_MaxAttemptsOverride(t *testing.T) {
	r := job.NewRegistry()
	policy := retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, Multiplier: 3, MaxInterval: time.Second}

	if err := r.Register(job.NewDefinition("a", noop, job.WithRetry(policy), job.WithMaxAttempts(5))); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, _ := r.Get("a")
	if got.Opts.Retry.MaxAttempts != 5 || got.Opts.Retry.Multiplier != 3 {
		t.Errorf("retry = %+v, want 5 attempts keeping multiplier 3", got.Opts.Retry)
	}
	if policy.MaxAttempts != 2 {
		t.Error("registration mutated the caller's policy")
	}
}

func TestRegistry_Validation(t *testing.T) {
	r := job.NewRegistry()

	tests := []struct {
		name string
		def  *job.Definition
	}{
		{"nil", nil},
		{"empty name", job.NewDefinition("", noop)},
		{"no handler", job.NewDefinition("x", nil)},
		{"negative lease", job.NewDefinition("x", noop, job.WithLease(-time.Second))},
		{"bad retry", job.NewDefinition("x", noop, job.WithRetry(retry.Policy{}))},
		{"zero multiplier", job.NewDefinition("x", noop, job.WithRetry(retry.Policy{MaxAttempts: 2, InitialInterval: time.Second}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.def); !errors.Is(err, tenantrun.ErrInvalidJob) {
				t.Errorf("Register() = %v, want ErrInvalidJob", err)
			}
		})
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := job.NewRegistry()
	if err := r.Register(job.NewDefinition("a", noop)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(job.NewDefinition("a", noop)); !errors.Is(err, tenantrun.ErrDuplicateJob) {
		t.Fatalf("second Register() = %v, want ErrDuplicateJob", err)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no definition for unregistered job")
	}
}

func TestRegistry_NamesAndScheduled(t *testing.T) {
	r := job.NewRegistry()
	for _, def := range []*job.Definition{
		job.NewDefinition("job-c", noop, job.WithSchedule("@hourly")),
		job.NewDefinition("job-a", noop, job.WithSchedule("@daily")),
		job.NewDefinition("job-b", noop),
	} {
		if err := r.Register(def); err != nil {
			t.Fatal(err)
		}
	}

	names := r.Names()
	want := []string{"job-a", "job-b", "job-c"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}

	sched := r.Scheduled()
	if len(sched) != 2 || sched[0].Name != "job-a" || sched[1].Name != "job-c" {
		t.Fatalf("Scheduled() returned %d definitions", len(sched))
	}
}

func TestRegistry_ReloadIsAtomic(t *testing.T) {
	r := job.NewRegistry()
	if err := r.Register(job.NewDefinition("old", noop)); err != nil {
		t.Fatal(err)
	}

	err := r.Reload(job.NewDefinition("new", noop), job.NewDefinition("", noop))
	if !errors.Is(err, tenantrun.ErrInvalidJob) {
		t.Fatalf("Reload() = %v, want ErrInvalidJob", err)
	}
	if _, ok := r.Get("old"); !ok {
		t.Fatal("failed reload changed the registry")
	}

	if err := r.Reload(job.NewDefinition("new", noop)); err != nil {
		t.Fatalf("Reload(): %v", err)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("old definition survived reload")
	}
	if _, ok := r.Get("new"); !ok {
		t.Error("new definition missing after reload")
	}
}
