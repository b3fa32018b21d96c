// Package cmd provides the CLI commands for tokenflow.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	logFormat string
	logLevel  string
}

// NewRootCommand builds the tokenflow command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "tokenflow",
		Short: "tokenflow - token bucket rate limiting toolkit",
		Long: `tokenflow checks, stores and exercises token bucket limiter configurations.

A configuration document names one or more limiters:

  limiters:
    api:
      refill_rate: 10      # tokens per second
      capacity: 20         # burst size
      poll_interval: 0.05  # seconds between polls while waiting
      use_backoff: true
      initial_delay_ms: 100
      max_delay_ms: 60000
      max_attempts: 5
      log_events: false

Commands:
  validate    Check configuration files
  defaults    Print a document with default settings
  simulate    Drive a configured limiter with concurrent requests
  store       Push, pull, list and delete limiters in Redis
  version     Print version information`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		newValidateCommand(),
		newDefaultsCommand(),
		newSimulateCommand(opts),
		newStoreCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
