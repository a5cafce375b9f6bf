package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "packet-nexus",
		Short: "Framed packet encoding with CRC and forward error correction",
		Long: `packet-nexus turns fixed-length messages into protected packets
(CRC plus two FEC and interleaver stages) and back. It runs as a UDP link
node with an HTTP API, or as a one-shot encoder and decoder.`,
		Version:       fmt.Sprintf("%s (built at %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (overrides config)")

	rootCmd.AddCommand(
		newServeCmd(),
		newEncodeCmd(),
		newDecodeCmd(),
		newInfoCmd(),
		newLengthsCmd(),
		newSchemesCmd(),
	)
	return rootCmd
}
