// Package dbtest opens a migrated Postgres database for repository tests.
// Tests are skipped unless TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/database"
)

// Open connects to TEST_DATABASE_URL, applies migrations and empties all tables.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	sqlDB, err := database.Connect(database.Config{DSN: dsn, MaxConns: 2, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx := context.Background()
	if err := database.Migrate(ctx, sqlDB, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	const truncate = `TRUNCATE email_deliveries, user_settings, refresh_sessions, tasks, users`
	if _, err := sqlDB.ExecContext(ctx, truncate); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	db := sqlx.NewDb(sqlDB, "postgres")
	t.Cleanup(func() { _ = db.Close() })
	return db
}
