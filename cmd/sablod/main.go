package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sablod",
		Short: "Websocket session server for browser clients",
		Long: `sablod keeps browser clients and their server-side state in sync
over one persistent websocket per tab.

It hosts the session space for one or more endpoint types, dispatches
every client event on its session's single logical thread, and supports
blocking server-to-client API calls with response correlation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
