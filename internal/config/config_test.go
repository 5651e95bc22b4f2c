package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("TRAFI_AUTH_SECRET", testSecret)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Auth.Issuer != "trafi" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Auth.AccessTTL != 15*time.Minute || cfg.Auth.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected ttls: %v %v", cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected in-memory default, got dsn %q", cfg.Database.DSN)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trafi.yaml")
	body := `
http:
  addr: ":9090"
auth:
  secret: "` + testSecret + `"
  access_ttl: 5m
audit:
  workers: 4
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRAFI_HTTP_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Fatalf("env should override file, got %q", cfg.HTTP.Addr)
	}
	if cfg.Auth.AccessTTL != 5*time.Minute || cfg.Audit.Workers != 4 || cfg.Log.Level != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	t.Setenv("TRAFI_AUTH_SECRET", testSecret)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("TRAFI_AUTH_SECRET", "short")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "auth.secret") {
		t.Fatalf("expected secret error, got %v", err)
	}

	t.Setenv("TRAFI_AUTH_SECRET", testSecret)
	t.Setenv("TRAFI_AUTH_ACCESS_TTL", "720h")
	_, err = Load("")
	if err == nil || !strings.Contains(err.Error(), "access_ttl") {
		t.Fatalf("expected ttl ordering error, got %v", err)
	}
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("TRAFI_AUTH_SECRET", testSecret)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.HTTP.TrustedProxies) != 0 {
		t.Fatalf("no proxy should be trusted by default, got %v", cfg.HTTP.TrustedProxies)
	}

	path := filepath.Join(t.TempDir(), "trafi.yaml")
	body := `
http:
  trusted_proxies: ["10.0.0.0/8", "127.0.0.1"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.HTTP.TrustedProxies) != 2 || cfg.HTTP.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("file proxies not applied: %v", cfg.HTTP.TrustedProxies)
	}

	t.Setenv("TRAFI_HTTP_TRUSTED_PROXIES", "172.16.0.0/12,::1")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.HTTP.TrustedProxies) != 2 || cfg.HTTP.TrustedProxies[1] != "::1" {
		t.Fatalf("env proxies not applied: %v", cfg.HTTP.TrustedProxies)
	}

	t.Setenv("TRAFI_HTTP_TRUSTED_PROXIES", "proxy.internal")
	if _, err = Load(""); err == nil || !strings.Contains(err.Error(), "trusted_proxies") {
		t.Fatalf("expected trusted_proxies error, got %v", err)
	}
}
