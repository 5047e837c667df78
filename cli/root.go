// Package cli provides the command-line interface for spectrum-notifier.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "spectrum-notifier",
	Short: "Announce new Spectrum forum threads to Discord",
	Long:  "spectrum-notifier polls RSI Spectrum forums for each configured community and posts every new thread once to its announcement channel.",
	RunE:  serveAction,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "spectrum-notifier %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, serveCmd, postLatestCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
