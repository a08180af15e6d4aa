package bunstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/tenantrun"
	"github.com/xraph/tenantrun/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ensure Store implements the composite interface at compile time.
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a *bun.DB with the PostgreSQL dialect.
// Store never closes the DB.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New wraps db.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the wrapped *bun.DB.
func (s *Store) DB() *bun.DB { return s.db }

// migrationLockKey serializes concurrent migrators across nodes.
const migrationLockKey = 0x74656e72756e // "tenrun"

type migrationModel struct {
	bun.BaseModel `bun:"table:tenantrun_migrations"`

	Filename  string    `bun:"filename,pk"`
	AppliedAt time.Time `bun:"applied_at,notnull,default:current_timestamp"`
}

// Migrate applies the embedded SQL files not yet recorded in
// tenantrun_migrations. Each file runs in its own transaction under a
// transaction-scoped advisory lock, so nodes migrating at the same time
// apply every file once.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*migrationModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return migrateErr("create migrations table", err)
	}

	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return migrateErr("read migrations", err)
	}
	slices.Sort(entries)

	for _, path := range entries {
		name := strings.TrimPrefix(path, "migrations/")
		applied, err := s.applyMigration(ctx, path, name)
		if err != nil {
			return err
		}
		if applied {
			s.logger.Info("applied migration", slog.String("file", name))
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, path, name string) (applied bool, err error) {
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", migrationLockKey); err != nil {
			return migrateErr("lock migrations", err)
		}

		done, err := tx.NewSelect().Model((*migrationModel)(nil)).Where("filename = ?", name).Exists(ctx)
		if err != nil {
			return migrateErr("check migration "+name, err)
		}
		if done {
			return nil
		}

		data, err := fs.ReadFile(migrationsFS, path)
		if err != nil {
			return migrateErr("read migration "+name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return migrateErr("execute migration "+name, err)
		}
		if _, err := tx.NewInsert().Model(&migrationModel{Filename: name}).ExcludeColumn("applied_at").Exec(ctx); err != nil {
			return migrateErr("record migration "+name, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

func migrateErr(op string, err error) error {
	return fmt.Errorf("tenantrun/bun: %s: %w: %w", op, tenantrun.ErrMigrationFailed, err)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close does nothing; the DB belongs to the caller.
func (s *Store) Close() error { return nil }
