// Command copybot mirrors the on-chain trading activity of configured Monad
// wallets onto the Kuru exchange.
package main

import (
	"os"

	"github.com/alanyoungcy/copybot/cmd/copybot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
