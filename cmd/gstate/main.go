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
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gstate",
		Short: "Run scripted sessions against a global state store",
		Long: `gstate drives a globalstate store from a TOML script.

A script declares the initial state, named reducers, subscribers with the
keys they read, and a list of steps. gstate runs the steps and reports the
keys each step changed and the subscribers it notified.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		versionCmd(),
	)
	return rootCmd
}
