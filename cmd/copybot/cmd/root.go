// Package cmd holds the copybot command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/copybot/internal/config"
)

// NewRootCommand builds the copybot command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "copybot",
		Short: "Copy trades from Monad wallets onto Kuru",
		Long: `copybot follows a set of source wallets on Monad, decodes their Kuru
order book activity and places proportionally sized copies from its own wallet.

Settings come from a TOML file, then .env, then COPYBOT_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to configuration file")

	root.AddCommand(
		newRunCommand(&configPath),
		newConfigCommand(&configPath),
		newKeyCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// loadConfig reads and validates the configuration at path. A missing
// default file is tolerated so env-only deployments work.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
