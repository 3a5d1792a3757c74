package oauth

import (
	"net/url"
	"strings"
)

// ParseScopes splits a space-separated scope string into a list, dropping
// empty tokens. Order-preserving and idempotent.
func ParseScopes(raw string) []string {
	return strings.Fields(raw)
}

// JoinScopes is the inverse of ParseScopes
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ValidateScopes reports whether every requested scope is a member of the
// allowed set. An empty requested list is valid: it means "no scopes", not
// "all scopes".
func ValidateScopes(requested, allowed []string) bool {
	for _, scope := range requested {
		if !containsScope(allowed, scope) {
			return false
		}
	}
	return true
}

func containsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidateRedirectURI reports whether the requested redirect URI exactly
// matches one of the registered URIs. No pattern matching, no scheme or
// host relaxation: exact string comparison is the only safe rule here.
func ValidateRedirectURI(requested string, allowed []string) bool {
	for _, uri := range allowed {
		if uri == requested {
			return true
		}
	}
	return false
}

// validateRegistrationRedirectURI checks a redirect URI presented at
// registration time. URIs must be absolute, carry no fragment, and use
// https except when pointing at localhost or loopback addresses.
func validateRegistrationRedirectURI(raw string) *OAuthError {
	parsed, err := url.Parse(raw)
	if err != nil || !parsed.IsAbs() {
		return ErrInvalidRedirectURI("redirect_uris must be valid absolute URIs")
	}
	if parsed.Fragment != "" {
		return ErrInvalidRedirectURI("redirect_uris must not contain fragments")
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(parsed.Hostname()) {
			return nil
		}
		return ErrInvalidRedirectURI("redirect_uris must use HTTPS (except localhost)")
	default:
		return ErrInvalidRedirectURI("redirect_uris must use http or https schemes")
	}
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1" ||
		strings.HasSuffix(host, ".localhost")
}
