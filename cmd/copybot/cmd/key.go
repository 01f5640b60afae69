package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/copybot/internal/crypto"
)

const (
	envKey      = "COPYBOT_WALLET_PRIVATE_KEY"
	envPassword = "COPYBOT_WALLET_KEY_PASSWORD"
)

func newKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the encrypted wallet key file",
	}

	var output string
	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a private key into a key file",
		Long: `Encrypt the private key in ` + envKey + ` with the password in
` + envPassword + ` and write it to --output. Point
wallet.encrypted_key_path at the file and drop the raw key from the config.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := os.Getenv(envKey)
			password := os.Getenv(envPassword)
			if key == "" || password == "" {
				return errors.New("key: " + envKey + " and " + envPassword + " must both be set")
			}
			normalized, err := crypto.KeySource{RawKey: key}.Load()
			if err != nil {
				return err
			}
			signer, err := crypto.NewSigner(normalized)
			if err != nil {
				return err
			}
			if err := crypto.WriteKeyFile(output, normalized, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for %s\n", output, signer.Address().Hex())
			return nil
		},
	}
	encrypt.Flags().StringVarP(&output, "output", "o", "wallet.key", "key file path")

	var file string
	inspect := &cobra.Command{
		Use:   "address",
		Short: "Print the address held by a key file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.KeySource{KeyFile: file, Password: os.Getenv(envPassword)}.Load()
			if err != nil {
				return err
			}
			signer, err := crypto.NewSigner(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signer.Address().Hex())
			return nil
		},
	}
	inspect.Flags().StringVarP(&file, "file", "f", "wallet.key", "key file path")

	cmd.AddCommand(encrypt, inspect)
	return cmd
}
