package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage.Kind != "memory" {
		t.Errorf("Storage.Kind = %q", cfg.Storage.Kind)
	}
	if cfg.JWT.AccessTTL != "1h" {
		t.Errorf("JWT.AccessTTL = %q", cfg.JWT.AccessTTL)
	}
	if cfg.Session.CookieName != "noxauth_session" {
		t.Errorf("Session.CookieName = %q", cfg.Session.CookieName)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q", cfg.Log.Format)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9090"
issuer: "https://auth.example.com"
storage:
  kind: redis
  redis:
    addr: "redis.internal:6379"
jwt:
  access_ttl: 15m
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Issuer != "https://auth.example.com" {
		t.Errorf("Issuer = %q", cfg.Issuer)
	}
	if cfg.Storage.Kind != "redis" || cfg.Storage.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.JWT.AccessTTL != "15m" {
		t.Errorf("JWT.AccessTTL = %q", cfg.JWT.AccessTTL)
	}
	// Unset fields still get defaults
	if cfg.JWT.RefreshTTL != "2160h" {
		t.Errorf("JWT.RefreshTTL = %q", cfg.JWT.RefreshTTL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NOXAUTH_ADDR", ":7000")
	t.Setenv("NOXAUTH_ISSUER", "https://env.example.com")
	t.Setenv("NOXAUTH_STORAGE_KIND", "redis")
	t.Setenv("NOXAUTH_REDIS_DB", "3")
	t.Setenv("NOXAUTH_RATE_ENABLED", "true")
	t.Setenv("NOXAUTH_LOG_LEVEL", "DEBUG")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Issuer != "https://env.example.com" {
		t.Errorf("Issuer = %q", cfg.Issuer)
	}
	if cfg.Storage.Kind != "redis" || cfg.Storage.Redis.DB != 3 {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if !cfg.Rate.Enabled {
		t.Error("Rate.Enabled should be true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want lowercased", cfg.Log.Level)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("NOXAUTH_ACCESS_TTL", "not-a-duration")

	if _, err := Load(""); err == nil {
		t.Error("Load() with an invalid duration should fail")
	}
}

func TestLoad_InvalidStorageKind(t *testing.T) {
	t.Setenv("NOXAUTH_STORAGE_KIND", "postgres")

	if _, err := Load(""); err == nil {
		t.Error("Load() with an unknown storage kind should fail")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() with a missing explicit path should fail")
	}
}
