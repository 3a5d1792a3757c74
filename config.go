package oauth

import (
	"log/slog"
	"time"
)

// Config holds the authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier URL (e.g.
	// "https://auth.example.com"). Endpoint URLs in the metadata document
	// are derived from it.
	Issuer string

	// LoginURL is the external login collaborator. Unauthenticated
	// authorization requests are redirected here with the original query
	// forwarded so the flow can resume after login.
	LoginURL string

	// SupportedScopes is the global scope catalog.
	// Defaults to DefaultScopes.
	SupportedScopes []string

	// CodeTTL is the authorization code lifetime. Default: 10 minutes.
	// Token lifetimes are configured on the token.Issuer, not here.
	CodeTTL time.Duration

	// RateLimit configures request rate limiting
	RateLimit RateLimitConfig

	// Security holds security settings (secure by default)
	Security SecurityConfig

	// Logger for structured logging. slog.Default() when nil.
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// RegistrationsPerWindow limits client registrations per IP per
	// RegistrationWindow. Zero uses the default of 10.
	RegistrationsPerWindow int

	// RegistrationWindow is the fixed window for registration limiting.
	// Zero uses the default of 1 hour.
	RegistrationWindow time.Duration

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies between clients and this
	// server, used to pick the client entry out of X-Forwarded-For.
	TrustedProxyCount int
}

// SecurityConfig holds OAuth security settings
type SecurityConfig struct {
	// DisablePlainPKCE rejects the "plain" code challenge method.
	// S256 is always accepted.
	DisablePlainPKCE bool

	// RequirePKCEForPublicClients rejects authorization requests from
	// public clients that carry no code challenge.
	RequirePKCEForPublicClients bool

	// EnableAuditLogging enables security audit logging. Sensitive
	// identifiers are hashed before they reach the log.
	EnableAuditLogging bool
}

// applySecureDefaults fills unset configuration fields
func (c *Config) applySecureDefaults() {
	if c.SupportedScopes == nil {
		c.SupportedScopes = DefaultScopes
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
