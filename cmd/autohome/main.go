// autohome - home automation bus node
//
// This is the main entry point for an autohome node. A node relays messages
// between the local process and a ZeroMQ publish/subscribe bus shared with
// the other nodes of the installation, either as the master (binding both
// sockets) or as a coordinator (connecting to a master).
//
// Commands:
//   - serve:   run the relay with its optional MQTT bridge, InfluxDB reporter and HTTP API
//   - send:    publish messages onto a bus endpoint
//   - listen:  print messages received from a bus endpoint
//   - version: print build information
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default configuration path.
const configEnvVar = "AUTOHOME_CONFIG"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state from leaking between tests.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autohome",
		Short: "autohome - home automation bus node",
		Long: `autohome relays messages between this node and the home automation bus.

A master node binds the publisher and subscriber endpoints; coordinator
nodes connect to them. Messages are sent as "topic|json" and decoded into
registered types, or passed through as raw text when no topic filter is set.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf(
		"autohome version %s\nCommit: %s\nBuilt: %s\n",
		version, commit, date,
	))

	root.PersistentFlags().String("config", "", "path to the configuration file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newListenCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// getConfigPath returns the configuration file path.
// The --config flag wins, then AUTOHOME_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "autohome %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
