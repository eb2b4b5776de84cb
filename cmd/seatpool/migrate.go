package main

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/app"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store/drivers/sqldb"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, application *app.Application) error {
					return application.Migrate()
				}, app.WithoutMigrations())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration (drops all data)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, application *app.Application) error {
					if ledger := application.LedgerStore(); ledger != nil {
						if err := ledger.MigrateDown(); err != nil {
							return fmt.Errorf("ledger: %w", err)
						}
					}
					return application.Store().MigrateDown()
				}, app.WithoutMigrations())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, application *app.Application) error {
					if err := printVersion(cmd, "database", application.Store()); err != nil {
						return err
					}
					if ledger := application.LedgerStore(); ledger != nil {
						return printVersion(cmd, "ledger", ledger)
					}
					return nil
				}, app.WithoutMigrations())
			},
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, name string, st *sqldb.Store) error {
	version, dirty, err := st.MigrationVersion()
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d%s\n", name, version, suffix)
	return err
}
