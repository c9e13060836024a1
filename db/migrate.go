package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrationDirs are probed in order; the first existing one wins. The
// relative forms cover running from the repo root, from db/ itself and from
// a sibling package directory under go test.
var migrationDirs = []string{
	"db/migrations",
	"migrations",
	"../db/migrations",
}

func migrationsPath() (string, error) {
	for _, path := range migrationDirs {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			abs, err := filepath.Abs(path)
			if err != nil {
				return "", fmt.Errorf("failed to get absolute path for %s: %w", path, err)
			}
			return "file://" + abs, nil
		}
	}
	return "", fmt.Errorf("migrations directory not found in any of the expected locations: %v", migrationDirs)
}

func newMigrate(database *sql.DB, source string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(database, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies the versioned migrations under db/migrations to a
// Postgres database. Running it again once the schema is current is a no-op.
//
// Files follow the golang-migrate naming convention:
//
//	000001_description.up.sql
//	000001_description.down.sql
func RunMigrations(database *sql.DB) error {
	source, err := migrationsPath()
	if err != nil {
		return err
	}
	return RunMigrationsFromPath(database, source)
}

// RunMigrationsFromPath is RunMigrations with an explicit source URL.
func RunMigrationsFromPath(database *sql.DB, source string) error {
	m, err := newMigrate(database, source)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema is up to date", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("error", err), slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d - manual intervention required", version)
	}
	slog.Info("migrations applied successfully",
		slog.Uint64("version", uint64(version)),
		slog.String("component", "db_migrate"))
	return nil
}

// MigrateDown rolls back the most recent migration. Rolling back the initial
// migration drops every blog and post record.
func MigrateDown(database *sql.DB) error {
	source, err := migrationsPath()
	if err != nil {
		return err
	}
	m, err := newMigrate(database, source)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("no migrations to roll back", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		// Version errors once every migration is rolled back.
		slog.Info("rolled back to no migrations", slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d after rollback - manual intervention required", version)
	}
	slog.Info("migration rolled back successfully",
		slog.Uint64("version", uint64(version)),
		slog.String("component", "db_migrate"))
	return nil
}

// GetMigrationVersion returns the current migration version and dirty state.
// A database with no applied migrations reports version 0.
func GetMigrationVersion(database *sql.DB) (version uint, dirty bool, err error) {
	source, err := migrationsPath()
	if err != nil {
		return 0, false, err
	}
	m, err := newMigrate(database, source)
	if err != nil {
		return 0, false, err
	}
	v, d, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return v, d, nil
}

// Setup brings the schema up to date for dialect d. Postgres uses the
// versioned migrations and falls back to Migrate when they cannot run;
// SQLite always uses Migrate.
func Setup(ctx context.Context, database *sql.DB, d Dialect) error {
	if d != Postgres {
		return Migrate(ctx, database)
	}
	if err := RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := Migrate(ctx, database); err != nil {
			return fmt.Errorf("embedded migration: %w", err)
		}
	}
	return nil
}
