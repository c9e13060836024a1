package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hypertxt/blogbot/config"
	"github.com/hypertxt/blogbot/db"
	"github.com/hypertxt/blogbot/store"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "blogctl",
		Short:        "Inspect and maintain blog bot data",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("dsn", "", "Database DSN (default: DB_DSN or data/blogbot.db)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Log at debug level")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		lvl := slog.LevelWarn
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			lvl = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	}

	cmd.AddCommand(newBlogsCmd())
	cmd.AddCommand(newPostsCmd())
	cmd.AddCommand(newPostCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

// env bundles what every subcommand opens.
type env struct {
	cfg     *config.Config
	db      *sql.DB
	dialect db.Dialect
	store   *store.Store
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		slog.Warn("failed to close database", slog.Any("err", err))
	}
}

// openEnv loads config, connects and, unless skipSetup, brings the schema
// up to date.
func openEnv(cmd *cobra.Command, skipSetup bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dsn, _ := cmd.Flags().GetString("dsn"); dsn != "" {
		cfg.DBDsn = dsn
	}
	database, dialect, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	if !skipSetup {
		if err := db.Setup(cmd.Context(), database, dialect); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &env{
		cfg:     cfg,
		db:      database,
		dialect: dialect,
		store:   store.New(database, dialect, cfg.Reregister),
	}, nil
}
