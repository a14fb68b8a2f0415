// Package main is the entry point for the xbp CLI.
//
// xbp is a synthetic-monitoring agent: it periodically exercises HTTP
// endpoints (probes) and multi-step request flows (stories), keeps a
// bounded history of results, and serves them over an HTTP API.
//
// Usage:
//
//	xbp serve -f xbp.yaml    # Start the monitoring agent
//	xbp validate -f xbp.yaml # Validate a config file
//	xbp version              # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "xbp",
	Short: "A synthetic-monitoring agent for HTTP endpoints",
	Long: `xbp continuously verifies that services are reachable and behaving
correctly. It schedules HTTP probes and multi-step stories at configured
intervals, records their outcomes in a bounded in-memory history, emits
metrics and traces, and can hot-reload its check definitions without a
restart.

Quick start:
  1. Run: xbp serve
     (a default xbp.yaml is created on first run)
  2. Inspect monitors: curl http://localhost:3000/-/monitors
  3. Edit xbp.yaml, then reload:
     curl -X POST -H "x-xbp-reload-token: $XBP_RELOAD_TOKEN" \
       http://localhost:3000/-/reload`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this xbp binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("xbp %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
