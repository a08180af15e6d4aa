package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Result is the outcome of an acquire.
type Result int

const (
	// Acquired means the caller now holds the lock.
	Acquired Result = iota
	// Busy means another holder's lease is live. It is not an error.
	Busy
)

func (r Result) String() string {
	if r == Acquired {
		return "acquired"
	}
	return "busy"
}

// Manager is the engine-facing lock API over a Store.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a Manager. A nil logger uses slog.Default().
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Acquire tries to take the lock for jobName.
func (m *Manager) Acquire(ctx context.Context, jobName, holderID string, lease time.Duration) (Result, error) {
	if lease <= 0 {
		return Busy, fmt.Errorf("lock: lease must be positive, got %v", lease)
	}
	ok, err := m.store.AcquireLock(ctx, jobName, holderID, lease)
	if err != nil {
		return Busy, fmt.Errorf("lock: acquire %q: %w", jobName, err)
	}
	if !ok {
		m.logger.Debug("job lock busy", slog.String("job", jobName), slog.String("holder", holderID))
		return Busy, nil
	}
	return Acquired, nil
}

// Renew extends the lease. It reports false when the lock was lost.
func (m *Manager) Renew(ctx context.Context, jobName, holderID string, lease time.Duration) (bool, error) {
	ok, err := m.store.RenewLock(ctx, jobName, holderID, lease)
	if err != nil {
		return false, fmt.Errorf("lock: renew %q: %w", jobName, err)
	}
	return ok, nil
}

// Release gives the lock up if holderID still holds it.
func (m *Manager) Release(ctx context.Context, jobName, holderID string) error {
	if err := m.store.ReleaseLock(ctx, jobName, holderID); err != nil {
		return fmt.Errorf("lock: release %q: %w", jobName, err)
	}
	return nil
}

// Get returns the live lock for jobName.
func (m *Manager) Get(ctx context.Context, jobName string) (*Lock, error) {
	return m.store.GetLock(ctx, jobName)
}

// Keepalive renews the lease every interval until the returned stop
// function is called or ctx ends. A lost lease is logged and renewal
// stops; the run itself carries on, since the lease only bounds overlap.
func (m *Manager) Keepalive(ctx context.Context, jobName, holderID string, lease, every time.Duration) (stop func()) {
	if every <= 0 {
		return func() {}
	}

	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.Renew(ctx, jobName, holderID, lease)
				if err != nil {
					m.logger.Warn("job lock renew error",
						slog.String("job", jobName),
						slog.String("error", err.Error()),
					)
					continue
				}
				if !ok {
					m.logger.Warn("job lock lost",
						slog.String("job", jobName),
						slog.String("holder", holderID),
					)
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			wg.Wait()
		})
	}
}
