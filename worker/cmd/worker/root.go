package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"presentationGenerator/logger"
	"presentationGenerator/worker/config"
)

func newRoot() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:           "worker",
		Short:         "Presentation generation worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	cmd.PersistentFlags().StringVar(&cfg.LogEncoding, "log-encoding", cfg.LogEncoding, "json or console")

	cmd.AddCommand(newRunCmd(cfg))
	cmd.AddCommand(newPurgeCmd(cfg))
	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.LogLevel, cfg.LogEncoding)
}
