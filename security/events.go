package security

// Event type constants for security audit logging.
// Constants keep event names consistent across the codebase.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a token pair is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token record is deleted
	EventTokenRevoked = "token_revoked"

	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventCodeReuseAttempt is logged when an exchange presents a code that
	// no longer exists (consumed or never issued)
	EventCodeReuseAttempt = "authorization_code_reuse_attempt"

	// EventPKCEValidationFailed is logged when code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventRefreshReuseAttempt is logged when a refresh token misses the
	// store after passing signature checks (rotation reuse, likely theft)
	EventRefreshReuseAttempt = "refresh_token_reuse_attempt" //nolint:gosec // event name, not a credential

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientRegistrationRejected is logged when registration is rejected
	EventClientRegistrationRejected = "client_registration_rejected"

	// Security violation events

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidRedirect is logged when an unregistered redirect URI is presented
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a request asks for scopes
	// outside the set it is allowed to narrow from
	EventScopeEscalationAttempt = "scope_escalation_attempt"
)
