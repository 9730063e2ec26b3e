package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/discipline-sync/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the catalog schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.DB.DSN == "" {
				return errors.New("db.dsn is required for migrations")
			}
			logger := rt.logger.Named("migrate")
			if args[0] == "down" {
				return postgres.MigrateDown(rt.cfg.DB.DSN, logger)
			}
			return postgres.MigrateUp(rt.cfg.DB.DSN, logger)
		},
	}
}
