// ABOUTME: Root command for the meridian CLI
// ABOUTME: Sets up global flags and subcommands

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Global flags.
var (
	logLevel  string
	logFormat string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meridian",
		Short: "Meridian - self-refreshing GeoIP lookup service",
		Long: `Meridian serves IP geolocation lookups over HTTP from a MaxMind-format
database that keeps itself current: the daemon fetches the database
before accepting traffic, re-checks the source on a timer, and hot-swaps
new builds under live traffic without dropping a request.

Supports daemon mode with an optional NATS lookup bridge, one-shot CLI
lookups, and database inspection and update commands.`,
	}

	// Global flags.
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (json, text)")

	// Add subcommands.
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newLookupCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("meridian version %s\n", version)
			fmt.Printf("  Git SHA:    %s\n", gitSHA)
			fmt.Printf("  Build Time: %s\n", buildTime)
		},
	}
}
