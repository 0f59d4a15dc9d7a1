// Package testutil opens the Postgres and Redis instances integration tests
// run against, skipping when they are not configured.
package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/PearlPath/pearlpath-api/internal/infra"
)

const (
	dsnEnv   = "PEARLPATH_TEST_DSN"
	redisEnv = "PEARLPATH_TEST_REDIS_ADDR"
)

var tables = []string{"booking_events", "safety_incidents", "bookings", "pois", "providers"}

// Postgres migrates the test database and truncates every table.
func Postgres(t testing.TB) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skip(dsnEnv + " not set; skipping DB-backed tests")
	}
	if err := infra.RunMigrations(dsn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

func Redis(t testing.TB) *redis.Client {
	t.Helper()

	addr := os.Getenv(redisEnv)
	if addr == "" {
		t.Skip(redisEnv + " not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return rdb
}
