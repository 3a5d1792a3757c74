// Package config loads the noxauth binary configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full binary configuration
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	// Issuer is the server's issuer identifier URL
	Issuer string `yaml:"issuer"`

	// LoginURL is where unauthenticated authorization requests are sent.
	// Empty means the built-in demo login page under /login.
	LoginURL string `yaml:"login_url"`

	Storage struct {
		// Kind is "memory" or "redis"
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	JWT struct {
		// KeyID is the kid header on signed tokens
		KeyID string `yaml:"key_id"`

		// SigningSeed is the base64 Ed25519 seed (32 bytes). Usually set
		// via the NOXAUTH_SIGNING_SEED environment variable rather than
		// the YAML file. Empty generates an ephemeral key at startup.
		SigningSeed string `yaml:"signing_seed"`

		AccessTTL  string `yaml:"access_ttl"`
		RefreshTTL string `yaml:"refresh_ttl"`
	} `yaml:"jwt"`

	// CodeTTL is the authorization code lifetime
	CodeTTL string `yaml:"code_ttl"`

	Session struct {
		CookieName string `yaml:"cookie_name"`
		TTL        string `yaml:"ttl"`
		Secure     bool   `yaml:"secure"`
	} `yaml:"session"`

	Rate struct {
		Enabled                bool   `yaml:"enabled"`
		RequestsPerSecond      int    `yaml:"requests_per_second"`
		Burst                  int    `yaml:"burst"`
		RegistrationsPerWindow int    `yaml:"registrations_per_window"`
		RegistrationWindow     string `yaml:"registration_window"`
		TrustProxy             bool   `yaml:"trust_proxy"`
		TrustedProxyCount      int    `yaml:"trusted_proxy_count"`
	} `yaml:"rate"`

	Security struct {
		DisablePlainPKCE            bool `yaml:"disable_plain_pkce"`
		RequirePKCEForPublicClients bool `yaml:"require_pkce_for_public_clients"`
		EnableAuditLogging          bool `yaml:"enable_audit_logging"`
	} `yaml:"security"`

	Telemetry struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"telemetry"`

	Log struct {
		// Level is debug, info, warn, or error
		Level string `yaml:"level"`
		// Format is json or text
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads a YAML config file, applies defaults and environment
// overrides, and validates duration strings. A missing path yields a
// default configuration driven entirely by the environment.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Issuer == "" {
		c.Issuer = "http://localhost:8080"
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = "memory"
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}
	if c.JWT.KeyID == "" {
		c.JWT.KeyID = "noxauth-1"
	}
	if c.JWT.AccessTTL == "" {
		c.JWT.AccessTTL = "1h"
	}
	if c.JWT.RefreshTTL == "" {
		c.JWT.RefreshTTL = "2160h" // 90d
	}
	if c.CodeTTL == "" {
		c.CodeTTL = "10m"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "noxauth_session"
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "24h"
	}
	if c.Rate.RequestsPerSecond == 0 {
		c.Rate.RequestsPerSecond = 10
	}
	if c.Rate.Burst == 0 {
		c.Rate.Burst = 20
	}
	if c.Rate.RegistrationsPerWindow == 0 {
		c.Rate.RegistrationsPerWindow = 10
	}
	if c.Rate.RegistrationWindow == "" {
		c.Rate.RegistrationWindow = "1h"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "noxauth"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("NOXAUTH_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("NOXAUTH_ISSUER"); ok {
		c.Issuer = v
	}
	if v, ok := getEnvStr("NOXAUTH_LOGIN_URL"); ok {
		c.LoginURL = v
	}
	if v, ok := getEnvStr("NOXAUTH_STORAGE_KIND"); ok {
		c.Storage.Kind = v
	}
	if v, ok := getEnvStr("NOXAUTH_REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
	}
	if v, ok := getEnvStr("NOXAUTH_REDIS_PASSWORD"); ok {
		c.Storage.Redis.Password = v
	}
	if v, ok := getEnvInt("NOXAUTH_REDIS_DB"); ok {
		c.Storage.Redis.DB = v
	}
	if v, ok := getEnvStr("NOXAUTH_REDIS_PREFIX"); ok {
		c.Storage.Redis.Prefix = v
	}
	if v, ok := getEnvStr("NOXAUTH_KEY_ID"); ok {
		c.JWT.KeyID = v
	}
	if v, ok := getEnvStr("NOXAUTH_SIGNING_SEED"); ok {
		c.JWT.SigningSeed = v
	}
	if v, ok := getEnvStr("NOXAUTH_ACCESS_TTL"); ok {
		c.JWT.AccessTTL = v
	}
	if v, ok := getEnvStr("NOXAUTH_REFRESH_TTL"); ok {
		c.JWT.RefreshTTL = v
	}
	if v, ok := getEnvStr("NOXAUTH_CODE_TTL"); ok {
		c.CodeTTL = v
	}
	if v, ok := getEnvStr("NOXAUTH_SESSION_COOKIE"); ok {
		c.Session.CookieName = v
	}
	if v, ok := getEnvStr("NOXAUTH_SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvBool("NOXAUTH_SESSION_SECURE"); ok {
		c.Session.Secure = v
	}
	if v, ok := getEnvBool("NOXAUTH_RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("NOXAUTH_RATE_RPS"); ok {
		c.Rate.RequestsPerSecond = v
	}
	if v, ok := getEnvInt("NOXAUTH_RATE_BURST"); ok {
		c.Rate.Burst = v
	}
	if v, ok := getEnvBool("NOXAUTH_TRUST_PROXY"); ok {
		c.Rate.TrustProxy = v
	}
	if v, ok := getEnvInt("NOXAUTH_TRUSTED_PROXY_COUNT"); ok {
		c.Rate.TrustedProxyCount = v
	}
	if v, ok := getEnvBool("NOXAUTH_DISABLE_PLAIN_PKCE"); ok {
		c.Security.DisablePlainPKCE = v
	}
	if v, ok := getEnvBool("NOXAUTH_REQUIRE_PKCE_PUBLIC"); ok {
		c.Security.RequirePKCEForPublicClients = v
	}
	if v, ok := getEnvBool("NOXAUTH_AUDIT_LOGGING"); ok {
		c.Security.EnableAuditLogging = v
	}
	if v, ok := getEnvBool("NOXAUTH_TELEMETRY_ENABLED"); ok {
		c.Telemetry.Enabled = v
	}
	if v, ok := getEnvStr("NOXAUTH_SERVICE_NAME"); ok {
		c.Telemetry.ServiceName = v
	}
	if v, ok := getEnvStr("NOXAUTH_LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvStr("NOXAUTH_LOG_FORMAT"); ok {
		c.Log.Format = strings.ToLower(v)
	}
}

func (c *Config) validate() error {
	for name, value := range map[string]string{
		"jwt.access_ttl":           c.JWT.AccessTTL,
		"jwt.refresh_ttl":          c.JWT.RefreshTTL,
		"code_ttl":                 c.CodeTTL,
		"session.ttl":              c.Session.TTL,
		"rate.registration_window": c.Rate.RegistrationWindow,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	switch c.Storage.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("storage.kind must be memory or redis, got %q", c.Storage.Kind)
	}
	return nil
}

// Duration returns a parsed duration string. Call after Load has
// validated the config.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
	}
	return false, false
}
