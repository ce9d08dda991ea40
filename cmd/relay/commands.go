// commands.go contains the cobra command definitions and their flag
// configurations. Each builder creates a command and wires it to its
// handler.
package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "relay.yaml"

// buildServeCmd creates the "serve" command that starts the realtime
// server. This is the primary command for running relay in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay realtime server",
		Long: `Start the relay realtime server.

The server will:
1. Load configuration from the specified file (or relay.yaml)
2. Connect to Postgres, or run on the in-memory store when no DSN is set
3. Accept websocket sessions on /ws
4. Fan notifications out to live, push, and email channels
5. Sweep calendar reminders on the configured cadence

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  relay serve

  # Start with custom config
  relay serve --config /etc/relay/production.yaml

  # Start with debug logging
  relay serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildTokenCmd creates the "token" command that mints a session token
// for development and testing.
func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		email      string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for a user",
		Example: `  relay token --user u1 --email dev@example.com --name "Dev User"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(configPath, userID, email, name)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User id to embed as the token subject")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&name, "name", "", "Display name claim")
	_ = cmd.MarkFlagRequired("user") //nolint:errcheck

	return cmd
}

// buildCheckConfigCmd creates the "check-config" command that loads
// and validates a configuration file without starting the server.
func buildCheckConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")

	return cmd
}
