package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/tenantrun/middleware"
	"github.com/xraph/tenantrun/retry"
)

func newTestAttempt() *middleware.Attempt {
	return &middleware.Attempt{
		JobName:     "invoice-sweep",
		ExecutionID: "exec_01h2xcejqtf2nbrexx3vqjhp41",
		TenantID:    "acme",
		Number:      2,
		MaxAttempts: 3,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *middleware.Attempt, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *middleware.Attempt, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	if err := chain(context.Background(), newTestAttempt(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestAttempt(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ *middleware.Attempt, next middleware.Handler) error {
		return next(ctx)
	}
	want := errors.New("handler error")

	err := middleware.Chain(pass)(context.Background(), newTestAttempt(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	m := middleware.Recover(slog.Default())

	err := m(context.Background(), newTestAttempt(), func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if kind := retry.KindOf(err); kind != retry.KindPanic {
		t.Errorf("kind = %q, want %q", kind, retry.KindPanic)
	}
	if !strings.Contains(err.Error(), "panic in job invoice-sweep for tenant acme: test panic") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	m := middleware.Recover(slog.Default())

	called := false
	err := m(context.Background(), newTestAttempt(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	a := newTestAttempt()
	a.Timeout = 20 * time.Millisecond

	err := middleware.Timeout()(context.Background(), a, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if kind := retry.KindOf(err); kind != retry.KindTimeout {
		t.Errorf("kind = %q, want timeout", kind)
	}
}

func TestTimeout_OverrunIgnoringContextStillFails(t *testing.T) {
	a := newTestAttempt()
	a.Timeout = 10 * time.Millisecond

	err := middleware.Timeout()(context.Background(), a, func(_ context.Context) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTimeout_ZeroIsUnbounded(t *testing.T) {
	err := middleware.Timeout()(context.Background(), newTestAttempt(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline on context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogging_PassesResultThrough(t *testing.T) {
	m := middleware.Logging(slog.Default())
	want := errors.New("boom")
	if err := m(context.Background(), newTestAttempt(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if err := m(context.Background(), newTestAttempt(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
