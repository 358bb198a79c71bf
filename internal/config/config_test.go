package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("TIMEOFF_JWT_SECRET", testSecret)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.HTTP.Addr)
	}
	if cfg.Auth.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.Auth.AccessTTL)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected empty dsn, got %q", cfg.Database.DSN)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
auth:
  secret: "`+testSecret+`"
  access_ttl: 5m
  retired_keys:
    - id: old
      secret: "abcdefabcdefabcdefabcdefabcdefab"
logging:
  level: debug
`)
	t.Setenv("TIMEOFF_HTTP_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Fatalf("env override not applied: %s", cfg.HTTP.Addr)
	}
	if cfg.Auth.AccessTTL != 5*time.Minute {
		t.Fatalf("file value not applied: %v", cfg.Auth.AccessTTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected level: %s", cfg.Logging.Level)
	}
	keys := cfg.Auth.Keys()
	if len(keys) != 2 || keys["primary"] != testSecret || keys["old"] == "" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestValidateRejectsShortSecret(t *testing.T) {
	t.Setenv("TIMEOFF_JWT_SECRET", "short")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "at least 32 characters") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsMissingSecret(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestValidateTTLOrdering(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = testSecret
	cfg.Auth.RefreshTTL = time.Minute
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "refresh_ttl") {
		t.Fatalf("expected refresh ttl error, got %v", err)
	}
}

func TestTrustedProxiesFromEnvAndValidation(t *testing.T) {
	t.Setenv("TIMEOFF_JWT_SECRET", testSecret)
	t.Setenv("TIMEOFF_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.HTTP.TrustedProxies) != 2 {
		t.Fatalf("unexpected proxies: %v", cfg.HTTP.TrustedProxies)
	}

	cfg.HTTP.TrustedProxies = []string{"not-a-cidr"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "trusted_proxies") {
		t.Fatalf("expected trusted_proxies error, got %v", err)
	}
}
