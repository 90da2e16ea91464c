package cmd

import (
	"fmt"

	"github.com/richoz-sanitaire/intervention-service/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema (goose)",
}

func init() {
	migrateCmd.AddCommand(
		migrationCommand("up", "Create the database if needed and apply all pending migrations", database.MigrateUp),
		migrationCommand("down", "Roll back the most recent migration", database.MigrateDown),
		migrationCommand("status", "Print applied and pending migrations", database.MigrateStatus),
	)
}

func migrationCommand(use, short string, run func(databaseURL string, log *zap.Logger) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := run(cfg.DatabaseURL(), log); err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			return nil
		},
	}
}
