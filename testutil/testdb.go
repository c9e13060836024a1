package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/hypertxt/blogbot/db"
)

// SetupTestDB opens a migrated database for a test. It uses TEST_PG_DSN when
// set and otherwise a fresh SQLite file in the test's temp dir. Postgres
// tables are emptied first so tests start from a clean store.
func SetupTestDB(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		dsn = filepath.Join(t.TempDir(), "blogbot_test.db")
	}
	database, dialect, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		_ = database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if dialect == db.Postgres {
		for _, table := range []string{"post_contents", "owner_posts", "blog_subdomains", "blog_owners"} {
			if _, err := database.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				_ = database.Close()
				t.Fatalf("failed to clear %s: %v", table, err)
			}
		}
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database, dialect
}
