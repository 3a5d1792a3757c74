// Package security provides the cross-cutting security utilities used by
// the authorization server: audit logging, rate limiting, response headers,
// client IP extraction, and clock-skew-tolerant expiry checks.
package security
