package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: test-secret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http_port default = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Database.QueryTimeout != 5*time.Second {
		t.Errorf("query_timeout default = %v, want 5s", cfg.Database.QueryTimeout)
	}
	if cfg.Auth.TokenExpiry != 24*time.Hour {
		t.Errorf("token_expiry default = %v, want 24h", cfg.Auth.TokenExpiry)
	}
	if cfg.Reminders.LookaheadMinutes != 5 || cfg.Reminders.PollInterval != time.Minute {
		t.Errorf("reminder defaults = %d min lookahead, %v poll", cfg.Reminders.LookaheadMinutes, cfg.Reminders.PollInterval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %s/%s, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("RELAY_TEST_SECRET", "from-env")
	path := writeConfig(t, `
auth:
  jwt_secret: ${RELAY_TEST_SECRET}
database:
  url: postgres://localhost/relay
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("jwt_secret = %q, want the expanded env value", cfg.Auth.JWTSecret)
	}
}

func TestLoad_RequiresSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load without auth.jwt_secret must fail")
	}
}

func TestLoad_ValidatesEnabledChannels(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: s
push:
  enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("push enabled without a url must fail validation")
	}

	path = writeConfig(t, `
auth:
  jwt_secret: s
email:
  enabled: true
  url: https://mailer.internal/send
`)
	if _, err := Load(path); err == nil {
		t.Fatal("email enabled without a from address must fail validation")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of a missing file must fail")
	}
}
