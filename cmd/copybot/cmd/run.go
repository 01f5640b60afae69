package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/copybot/internal/app"
	"github.com/alanyoungcy/copybot/internal/config"
)

func newRunCommand(configPath *string) *cobra.Command {
	var (
		dryRun  bool
		monitor bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot in the configured mode",
		Long: `Start following the source wallets until SIGINT or SIGTERM.

Examples:
  copybot run --config config.toml
  copybot run --dry-run
  copybot run --monitor`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Copy.DryRun = true
			}
			if monitor {
				cfg.Mode = config.ModeMonitor
			}

			logger, closeLog, err := newLogger(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeLog()
			slog.SetDefault(logger)

			logger.Info("copybot starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", *configPath),
				slog.String("version", version),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application := app.New(cfg, logger)
			defer application.Close()

			if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("application exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("copybot stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate orders instead of placing them")
	cmd.Flags().BoolVar(&monitor, "monitor", false, "only watch the source wallets")
	return cmd
}
