// Package store defines the aggregate persistence interface. The lock and
// execution subsystems each define their own store interface; the
// composite Store composes them. Backends: Postgres (pgx), Bun, Redis,
// MongoDB and Memory. A Kubernetes Lease backend for locks alone lives in
// lock/k8s and can be paired with any of these for execution history.
package store

import (
	"context"

	"github.com/xraph/tenantrun/execution"
	"github.com/xraph/tenantrun/lock"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store.
type Store interface {
	lock.Store
	execution.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
