//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/tenantrun/store/postgres"
	"github.com/xraph/tenantrun/store/storetest"
)

// startPostgres runs Postgres in a container and returns its DSN.
func startPostgres(t *testing.T) string {
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
	return dsn
}

func TestConformance(t *testing.T) {
	ctx := context.Background()
	s, err := postgres.New(ctx, startPostgres(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	storetest.Run(t, s)
}

func TestMigrateConcurrent(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, startPostgres(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	var g errgroup.Group
	for range 4 {
		g.Go(func() error { return postgres.NewFromPool(pool).Migrate(ctx) })
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent migrate: %v", err)
	}

	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM tenantrun_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("recorded migrations = %d, want 1", n)
	}
}

func TestCloseLeavesBorrowedPool(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, startPostgres(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.NewFromPool(pool).Close(); err != nil {
		t.Fatal(err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Errorf("pool closed by store: %v", err)
	}
}
