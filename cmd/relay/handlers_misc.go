package main

import (
	"fmt"

	"github.com/hivedesk/relay/internal/auth"
	"github.com/hivedesk/relay/internal/config"
)

// runToken mints a session token signed with the configured secret.
// Intended for development and smoke testing, not for issuing real
// user credentials.
func runToken(configPath, userID, email, name string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	token, err := verifier.Generate(userID, email, name)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// runCheckConfig loads and validates a config file, printing the
// effective top-level settings.
func runCheckConfig(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	storeKind := "postgres"
	if cfg.Database.URL == "" {
		storeKind = "memory"
	}
	fmt.Printf("config ok\n")
	fmt.Printf("  listen:    %s:%d\n", cfg.Server.Host, cfg.Server.HTTPPort)
	fmt.Printf("  store:     %s\n", storeKind)
	fmt.Printf("  push:      %v\n", cfg.Push.Enabled)
	fmt.Printf("  email:     %v\n", cfg.Email.Enabled)
	fmt.Printf("  reminders: %v\n", cfg.Reminders.Enabled)
	return nil
}
