package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/store"
)

// Collection name constants.
const (
	colLocks            = "tenantrun_locks"
	colExecutions       = "tenantrun_executions"
	colTenantExecutions = "tenantrun_tenant_executions"
)

// Ensure Store implements the composite interface at compile time.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
// The caller owns the database lifecycle; Store never closes it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
	seq    atomic.Int64
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all tenantrun collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("tenantrun/mongo: migrate %s indexes: %w: %w", col, tenantrun.ErrMigrationFailed, err)
		}
		s.logger.Debug("ensured indexes", slog.String("collection", col))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// nextSeq returns a strictly increasing ordering key for tenant
// executions. Only the lock holder writes a run's tenants, so ordering
// within one process is enough.
func (s *Store) nextSeq() int64 {
	for {
		prev := s.seq.Load()
		next := max(prev+1, time.Now().UnixNano())
		if s.seq.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colLocks: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		colExecutions: {
			// History index: newest first per job.
			{Keys: bson.D{
				{Key: "job_name", Value: 1},
				{Key: "started_at", Value: -1},
				{Key: "_id", Value: -1},
			}},
			{Keys: bson.D{
				{Key: "job_name", Value: 1},
				{Key: "status", Value: 1},
				{Key: "started_at", Value: -1},
			}},
		},
		colTenantExecutions: {
			{Keys: bson.D{
				{Key: "execution_id", Value: 1},
				{Key: "seq", Value: 1},
			}},
			{
				Keys:    bson.D{{Key: "execution_id", Value: 1}, {Key: "tenant_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
