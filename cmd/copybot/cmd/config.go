package cmd

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/copybot/internal/config"
)

func newConfigCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or validate the configuration",
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check that the configuration loads and passes validation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration valid: %s\n", *configPath)
			fmt.Fprintf(out, "  mode: %s (dry_run=%t)\n", cfg.Mode, cfg.Copy.DryRun)
			fmt.Fprintf(out, "  source wallets: %d\n", len(cfg.Chain.SourceWallets))
			fmt.Fprintf(out, "  copy ratio: %s\n", cfg.Copy.CopyRatio.String())
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			red := config.RedactedConfig(cfg)
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(red)
		},
	}

	cmd.AddCommand(validate, show)
	return cmd
}
