// Package cli implements the semlog command-line interface using cobra.
package cli

import (
	"github.com/spf13/cobra"
)

// Build metadata, injected via ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "semlog",
		Short: "Semi-structured event log receiver and emitter",
		Long: `Semlog receives semi-structured events pushed by remote senders and
relays them to local sinks (console, files, syslog, or further remotes),
or emits one-off events from the command line.

Quick start:
  semlog listen                           # receive JSON events on 127.0.0.1:9000
  semlog listen --config semlog.yaml      # relay into configured sinks
  semlog send greeting text="Hello, World!"`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		listenCmd(),
		sendCmd(),
		versionCmd(),
	)

	return cmd
}
