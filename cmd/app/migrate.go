package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()

		repo, err := openRepository(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer repo.Close()

		if err := repo.Migrate(ctx); err != nil {
			logger.Error("migrate: failed", zap.Error(err))
			return err
		}
		logger.Info("migrate: schema is up to date", zap.String("driver", cfg.Database.Driver))
		return nil
	},
}
