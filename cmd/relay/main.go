// Package main provides the CLI entry point for the relay realtime server.
//
// Relay is the presence, room-membership, and notification fan-out
// engine of the HiveDesk collaboration suite. It terminates the
// websocket sessions of the chat, drive, and calendar frontends,
// mirrors conversation traffic to connected participants, and fans
// business events out to live, push, and email delivery channels.
//
// # Basic Usage
//
// Start the server:
//
//	relay serve --config relay.yaml
//
// Mint a development token:
//
//	relay token --user u1 --email dev@example.com
//
// # Environment Variables
//
// Configuration values may reference environment variables with
// ${VAR} syntax; they are expanded before parsing. Commonly used:
//
//   - RELAY_JWT_SECRET: HMAC secret for session tokens
//   - RELAY_DATABASE_URL: Postgres DSN (empty selects the in-memory store)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "relay",
		Short:   "Realtime presence and notification server",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildTokenCmd(),
		buildCheckConfigCmd(),
	)
	return rootCmd
}
