package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes structured security audit events.
// Sensitive identifiers are hashed before logging so that audit output can
// be shipped to log aggregation without leaking user identities.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// Event is a security-relevant occurrence worth auditing
type Event struct {
	// Type is one of the Event* constants
	Type string

	// UserID is the affected user (hashed before logging)
	UserID string

	// ClientID is the OAuth client involved
	ClientID string

	// IPAddress is the remote address the request came from
	IPAddress string

	// Details carries event-specific context
	Details map[string]any

	// Timestamp defaults to now when zero
	Timestamp time.Time
}

// NewAuditor creates a security auditor.
// A nil logger falls back to slog.Default().
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// LogEvent writes an audit event. No-op when auditing is disabled.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		"event_type", event.Type,
		"timestamp", event.Timestamp.Format(time.RFC3339),
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id_hash", hashForLogging(event.UserID))
	}
	if event.ClientID != "" {
		attrs = append(attrs, "client_id", event.ClientID)
	}
	if event.IPAddress != "" {
		attrs = append(attrs, "ip_address", event.IPAddress)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	a.logger.Info("security_audit", attrs...)
}

// LogTokenIssued records issuance of a token pair
func (a *Auditor) LogTokenIssued(userID, clientID string, scopes []string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"scopes": scopes},
	})
}

// LogTokenRefreshed records a successful refresh token rotation
func (a *Auditor) LogTokenRefreshed(userID, clientID string) {
	a.LogEvent(Event{Type: EventTokenRefreshed, UserID: userID, ClientID: clientID})
}

// LogCodeIssued records issuance of an authorization code
func (a *Auditor) LogCodeIssued(userID, clientID string) {
	a.LogEvent(Event{Type: EventAuthorizationCodeIssued, UserID: userID, ClientID: clientID})
}

// LogCodeReuseAttempt records an exchange for a code that no longer exists
func (a *Auditor) LogCodeReuseAttempt(clientID, ip string) {
	a.LogEvent(Event{Type: EventCodeReuseAttempt, ClientID: clientID, IPAddress: ip})
}

// LogRefreshReuseAttempt records a refresh attempt with a rotated-out token
func (a *Auditor) LogRefreshReuseAttempt(clientID, ip string) {
	a.LogEvent(Event{Type: EventRefreshReuseAttempt, ClientID: clientID, IPAddress: ip})
}

// LogAuthFailure records a failed client authentication
func (a *Auditor) LogAuthFailure(clientID, ip, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"reason": reason},
	})
}

// LogClientRegistered records a successful dynamic client registration
func (a *Auditor) LogClientRegistered(clientID, ip string, confidential bool) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"confidential": confidential},
	})
}

// LogRateLimitExceeded records a rate limit rejection
func (a *Auditor) LogRateLimitExceeded(ip, limiterType string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ip,
		Details:   map[string]any{"limiter_type": limiterType},
	})
}

// hashForLogging returns a short SHA-256 prefix of a sensitive value.
// Long enough to correlate events, short enough to be useless for lookup.
func hashForLogging(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
