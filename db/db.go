// Package db provides database connection helpers and schema migration for
// the ownership store. Postgres is reached through pgx; any other DSN is
// treated as a SQLite file path and opened with the pure-Go modernc driver.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // sqlite driver registered as 'sqlite'
)

// Dialect names the SQL flavour behind a *sql.DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DialectOf picks the dialect for dsn: postgres:// and postgresql:// URLs are
// Postgres, everything else is a SQLite path.
func DialectOf(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Connect opens dsn with the matching driver. SQLite handles are limited to a
// single connection so write transactions never overlap.
func Connect(dsn string) (*sql.DB, Dialect, error) {
	dialect := DialectOf(dsn)
	if dialect == Postgres {
		database, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return database, Postgres, nil
	}

	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	database.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := database.Exec(pragma); err != nil {
			_ = database.Close()
			return nil, "", fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	return database, SQLite, nil
}

// Rebind rewrites '?' placeholders into the dialect's form. Queries must not
// contain literal question marks.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Migrate applies idempotent schema statements. The DDL is shared by both
// dialects; it backs up the versioned migrations and is the only schema path
// for SQLite.
func Migrate(ctx context.Context, database *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blog_owners (
			owner_id BIGINT PRIMARY KEY,
			subdomain TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS blog_subdomains (
			subdomain TEXT PRIMARY KEY,
			owner_id BIGINT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS owner_posts (
			owner_id BIGINT NOT NULL,
			post_id BIGINT NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY (owner_id, post_id)
		)`,
		`CREATE TABLE IF NOT EXISTS post_contents (
			post_id BIGINT PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			content TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_owner_posts_seq ON owner_posts(owner_id, seq)`,
	}
	for i, s := range stmts {
		if _, err := database.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
