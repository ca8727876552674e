package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/config"
	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/logger"
)

// cli carries what every subcommand needs once the root pre-run has
// loaded it.
type cli struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	var logLevel string

	root := &cobra.Command{
		Use:          "automation",
		Short:        "Automation job orchestration for restaurant back-office work",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			level, err := logger.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logger.New(os.Stderr, level)
			slog.SetDefault(c.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug|info|warn|error)")

	root.AddCommand(
		newServeCmd(c),
		newMigrateCmd(c),
		newReconcileCmd(c),
		newJobsCmd(c),
		newClientsCmd(c),
	)
	return root
}
