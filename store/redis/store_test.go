//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	redisstore "github.com/xraph/tenantrun/store/redis"
	"github.com/xraph/tenantrun/store/storetest"
)

func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	s := redisstore.New(client)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, setupTestStore(t))
}

func TestKeyPrefix(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	scoped := redisstore.New(s.Client(), redisstore.WithKeyPrefix("other:"))
	if ok, err := s.AcquireLock(ctx, "nightly", "a", time.Minute); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	// A different prefix is a different namespace.
	if ok, err := scoped.AcquireLock(ctx, "nightly", "b", time.Minute); err != nil || !ok {
		t.Fatalf("acquire in other namespace = %v, %v", ok, err)
	}
	n, err := s.Client().Exists(ctx, "other:lock:nightly").Result()
	if err != nil || n != 1 {
		t.Fatalf("prefixed key exists = %d, %v", n, err)
	}
}
