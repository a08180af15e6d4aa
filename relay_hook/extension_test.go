package relayhook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/relay"
	revent "github.com/xraph/relay/event"
	"github.com/xraph/relay/store/memory"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/ext"
	"github.com/xraph/tenantrun/id"
	rh "github.com/xraph/tenantrun/relay_hook"
)

// ── Helpers ─────────────────────────────────────────

func newTestRelay(t *testing.T) *relay.Relay {
	t.Helper()
	r, err := relay.New(relay.WithStore(memory.New()))
	if err != nil {
		t.Fatalf("failed to create relay: %v", err)
	}
	if err := rh.RegisterAll(context.Background(), r); err != nil {
		t.Fatalf("failed to register event types: %v", err)
	}
	return r
}

func newTestRun() *execution.Execution {
	return &execution.Execution{
		ID:        id.NewExecutionID(),
		JobName:   "nightly-sync",
		HolderID:  id.NewHolderID().String(),
		Status:    execution.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

func newTestTenant(run *execution.Execution) *execution.TenantExecution {
	return &execution.TenantExecution{
		ID:           id.NewTenantExecutionID(),
		ExecutionID:  run.ID,
		JobName:      run.JobName,
		TenantID:     "acme",
		Status:       execution.TenantRunning,
		AttemptCount: 1,
		StartedAt:    time.Now().UTC(),
	}
}

// lastEvent retrieves the most recent event from the relay store with the
// given type. It fails the test if no matching event is found.
func lastEvent(t *testing.T, r *relay.Relay, eventType string) *revent.Event {
	t.Helper()
	events, err := r.Store().ListEvents(context.Background(), revent.ListOpts{
		Type:  eventType,
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("no %s event found", eventType)
	}
	return events[0]
}

// ── Tests ───────────────────────────────────────────

func TestRelayHookExtension_Name(t *testing.T) {
	h := rh.New(newTestRelay(t))
	if h.Name() != "relay-hook" {
		t.Errorf("expected name %q, got %q", "relay-hook", h.Name())
	}
}

func TestRelayHookExtension_RunEventsHaveNoTenant(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r)
	ctx := context.Background()
	run := newTestRun()

	if err := h.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run.Status = execution.StatusPartialFailure
	if err := h.OnRunCompleted(ctx, run, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, et := range []string{rh.EventRunStarted, rh.EventRunCompleted} {
		evt := lastEvent(t, r, et)
		if evt.TenantID != "" {
			t.Errorf("%s: TenantID want empty, got %q", et, evt.TenantID)
		}
	}
}

func TestRelayHookExtension_RunSkipped(t *testing.T) {
	r := newTestRelay(t)
	run := newTestRun()
	run.Status = execution.StatusSkipped

	if err := rh.New(r).OnRunSkipped(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lastEvent(t, r, rh.EventRunSkipped)
}

func TestRelayHookExtension_RunFailed(t *testing.T) {
	r := newTestRelay(t)

	if err := rh.New(r).OnRunFailed(context.Background(), newTestRun(), errors.New("store unavailable")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lastEvent(t, r, rh.EventRunFailed)
}

func TestRelayHookExtension_TenantEventsCarryTenant(t *testing.T) {
	ctx := context.Background()
	run := newTestRun()
	attemptErr := errors.New("http 503")

	tests := []struct {
		name      string
		eventType string
		call      func(*rh.Extension, *execution.TenantExecution) error
	}{
		{"Succeeded", rh.EventTenantSucceeded, func(h *rh.Extension, te *execution.TenantExecution) error {
			return h.OnTenantSucceeded(ctx, te, 80*time.Millisecond)
		}},
		{"Retrying", rh.EventTenantRetrying, func(h *rh.Extension, te *execution.TenantExecution) error {
			return h.OnTenantRetrying(ctx, te, attemptErr, time.Second)
		}},
		{"Failed", rh.EventTenantFailed, func(h *rh.Extension, te *execution.TenantExecution) error {
			return h.OnTenantFailed(ctx, te, attemptErr)
		}},
		{"RetryExhausted", rh.EventTenantRetryExhausted, func(h *rh.Extension, te *execution.TenantExecution) error {
			return h.OnTenantRetryExhausted(ctx, te, attemptErr)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRelay(t)
			if err := tt.call(rh.New(r), newTestTenant(run)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			evt := lastEvent(t, r, tt.eventType)
			if evt.TenantID != "acme" {
				t.Errorf("TenantID: want %q, got %q", "acme", evt.TenantID)
			}
		})
	}
}

func TestRelayHookExtension_TriggerFired(t *testing.T) {
	r := newTestRelay(t)

	if err := rh.New(r).OnTriggerFired(context.Background(), "nightly-sync"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt := lastEvent(t, r, rh.EventTriggerFired)
	if evt.TenantID != "" {
		t.Errorf("TenantID: want empty, got %q", evt.TenantID)
	}
}

func TestRelayHookExtension_WithEvents_FiltersDisabled(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r, rh.WithEvents(rh.EventTenantRetryExhausted))

	ctx := context.Background()
	te := newTestTenant(newTestRun())

	if err := h.OnTenantSucceeded(ctx, te, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events, err := r.Store().ListEvents(ctx, revent.ListOpts{Type: rh.EventTenantSucceeded, Limit: 10})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 succeeded events (disabled), got %d", len(events))
	}

	if err := h.OnTenantRetryExhausted(ctx, te, errors.New("timeout")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events, err = r.Store().ListEvents(ctx, revent.ListOpts{Type: rh.EventTenantRetryExhausted, Limit: 10})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 exhausted event, got %d", len(events))
	}
}

func TestRelayHookExtension_WithPayloadFunc(t *testing.T) {
	r := newTestRelay(t)
	h := rh.New(r, rh.WithPayloadFunc(rh.EventTriggerFired, func(any) (any, error) {
		return nil, errors.New("payload rejected")
	}))

	if err := h.OnTriggerFired(context.Background(), "nightly-sync"); err == nil {
		t.Fatal("expected payload builder error")
	}
}

func TestRelayHookExtension_ViaRegistry(t *testing.T) {
	r := newTestRelay(t)
	reg := ext.NewRegistry(slog.Default())
	reg.Register(rh.New(r))

	ctx := context.Background()
	run := newTestRun()
	te := newTestTenant(run)

	reg.EmitTriggerFired(ctx, run.JobName)
	reg.EmitRunStarted(ctx, run)
	reg.EmitRunSkipped(ctx, run)
	reg.EmitTenantRetrying(ctx, te, errors.New("503"), time.Second)
	reg.EmitTenantSucceeded(ctx, te, time.Second)
	reg.EmitTenantFailed(ctx, te, errors.New("404"))
	reg.EmitTenantRetryExhausted(ctx, te, errors.New("timeout"))
	reg.EmitRunCompleted(ctx, run, 2*time.Second)
	reg.EmitRunFailed(ctx, run, errors.New("lock lost"))

	for _, def := range rh.AllDefinitions() {
		events, err := r.Store().ListEvents(ctx, revent.ListOpts{Type: def.Name, Limit: 10})
		if err != nil {
			t.Fatalf("ListEvents(%s) failed: %v", def.Name, err)
		}
		if len(events) != 1 {
			t.Errorf("%s: want 1 event, got %d", def.Name, len(events))
		}
	}
}
