package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/tenantrun"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockKey is the advisory lock held while a migration applies.
const migrationLockKey int64 = 0x74656e72756e

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS tenantrun_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrate applies embedded migrations in filename order. Each file runs in
// its own transaction under an advisory lock, so nodes that migrate at the
// same time apply it once.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createMigrationsTable); err != nil {
		return migrateErr("create migrations table", err)
	}

	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return migrateErr("read migrations", err)
	}
	slices.Sort(files)

	for _, file := range files {
		name := path.Base(file)
		var applied bool
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var ok bool
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
				return migrateErr("lock migrations", err)
			}
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM tenantrun_migrations WHERE filename = $1)`, name,
			).Scan(&ok); err != nil {
				return migrateErr("check migration "+name, err)
			}
			if ok {
				return nil
			}

			sql, err := fs.ReadFile(migrationsFS, file)
			if err != nil {
				return migrateErr("read migration "+name, err)
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return migrateErr("execute migration "+name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO tenantrun_migrations (filename) VALUES ($1)`, name); err != nil {
				return migrateErr("record migration "+name, err)
			}
			applied = true
			return nil
		})
		if err != nil {
			return err
		}
		if applied {
			s.logger.Info("applied migration", slog.String("file", name))
		}
	}
	return nil
}

func migrateErr(op string, err error) error {
	return fmt.Errorf("tenantrun/postgres: %s: %w: %w", op, tenantrun.ErrMigrationFailed, err)
}
