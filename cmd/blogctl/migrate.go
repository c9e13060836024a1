package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hypertxt/blogbot/db"
)

var errVersionedOnly = errors.New("versioned migrations are only used with Postgres")

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := db.Setup(cmd.Context(), e.db, e.dialect); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all versioned migrations (drops every table)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()
			if e.dialect != db.Postgres {
				return errVersionedOnly
			}
			if err := db.MigrateDown(e.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all migrations rolled back")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()
			if e.dialect != db.Postgres {
				return errVersionedOnly
			}
			v, dirty, err := db.GetMigrationVersion(e.db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%v\n", v, dirty)
			return nil
		},
	})
	return cmd
}
