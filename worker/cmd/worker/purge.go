package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"presentationGenerator/blob"
	"presentationGenerator/checkpoint"
	"presentationGenerator/database"
	"presentationGenerator/repository"
	"presentationGenerator/worker/config"
)

func newPurgeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired tasks and checkpoints",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, 2)
			if err != nil {
				return err
			}
			defer pool.Close()

			blobs, err := blob.Open(ctx, cfg.Blob)
			if err != nil {
				return err
			}

			tasks := repository.NewTaskRepository(repository.NewPostgresStore(pool))
			checkpoints := checkpoint.NewStore(checkpoint.NewPostgresRecords(pool), blobs, logger).
				WithRetention(cfg.CheckpointRetention)

			purgedTasks, err := tasks.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			purgedCheckpoints, err := checkpoints.PurgeExpired(ctx)
			if err != nil {
				return err
			}

			logger.Info("Purged expired records",
				zap.Int64("tasks", purgedTasks),
				zap.Int64("checkpoints", purgedCheckpoints))
			return nil
		},
	}
}
