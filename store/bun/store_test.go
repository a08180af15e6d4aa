//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"golang.org/x/sync/errgroup"

	bunstore "github.com/xraph/tenantrun/store/bun"
	"github.com/xraph/tenantrun/store/storetest"
)

// startDB runs Postgres in a container and returns an unmigrated *bun.DB.
func startDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	container, err := pgmodule.Run(ctx, "postgres:16-alpine",
		pgmodule.WithDatabase("tenantrun_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConformance(t *testing.T) {
	s := bunstore.New(startDB(t))
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	storetest.Run(t, s)
}

func TestMigrateConcurrent(t *testing.T) {
	db := startDB(t)
	ctx := context.Background()

	var g errgroup.Group
	for range 4 {
		g.Go(func() error { return bunstore.New(db).Migrate(ctx) })
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent migrate: %v", err)
	}

	n, err := db.NewSelect().Table("tenantrun_migrations").Count(ctx)
	if err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("recorded migrations = %d, want 1", n)
	}

	// Re-running is a no-op.
	if err := bunstore.New(db).Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
