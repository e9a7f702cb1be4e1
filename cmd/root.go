package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/hermes/cmd/gen"
)

var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Hermes trading-gateway session client",
	Long: `Hermes maintains a long-lived session with a trading gateway and
routes its message stream to subscribers.`,
}

func init() {
	rootCmd.AddCommand(WatchCmd)
	rootCmd.AddCommand(FakeGatewayCmd)
	rootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
