package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations.
// Callers should use errors.Is to check for these conditions.
var (
	// ErrClientNotFound is returned when a client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrCodeNotFound is returned when an authorization code does not exist.
	// A consumed code and a code that never existed are deliberately
	// indistinguishable to callers.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired is returned when an authorization code has expired
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrTokenNotFound is returned when a token record does not exist
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned when a token record has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrUserNotFound is returned when a user record does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidClientCredentials is returned when client authentication fails.
	// The message is generic to prevent client enumeration.
	ErrInvalidClientCredentials = errors.New("invalid client credentials")
)

// Client is a registered OAuth client.
// Validated once at registration; immutable thereafter.
type Client struct {
	// ClientID is the unique public client identifier
	ClientID string

	// ClientSecretHash is the bcrypt hash of the client secret.
	// Empty for public clients. Plaintext secrets are never stored.
	ClientSecretHash string

	// ClientName is the human-readable client name
	ClientName string

	// RedirectURIs are the registered redirect URIs (exact match only)
	RedirectURIs []string

	// Scopes are the scopes the client may request
	Scopes []string

	// GrantTypes are the grant types the client may use
	GrantTypes []string

	// ResponseTypes are the response types the client may use
	ResponseTypes []string

	// TokenEndpointAuthMethod is how the client authenticates at the token
	// endpoint: "client_secret_basic", "client_secret_post", or "none"
	TokenEndpointAuthMethod string

	// Confidential indicates whether the client can keep a secret.
	// Public clients authenticate by client_id alone (RFC 6749 section 2.3).
	Confidential bool

	// CreatedAt is when the client was registered
	CreatedAt time.Time
}

// AllowsGrantType reports whether the client registered the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AuthorizationCode is a short-lived, single-use credential binding a code
// value to the client, user, redirect URI, and scopes it was issued for.
type AuthorizationCode struct {
	// Code is the opaque code value (the lookup key)
	Code string

	// ClientID is the client the code was issued to
	ClientID string

	// UserID is the resource owner who approved the request
	UserID string

	// RedirectURI is the redirect URI used at issuance.
	// The exchange request must present the same value.
	RedirectURI string

	// Scopes are the granted scopes
	Scopes []string

	// CodeChallenge is the PKCE challenge (empty when PKCE is not used)
	CodeChallenge string

	// CodeChallengeMethod is "S256" or "plain"
	CodeChallengeMethod string

	// CreatedAt is when the code was issued
	CreatedAt time.Time

	// ExpiresAt is when the code expires (issuance + 10 minutes by default)
	ExpiresAt time.Time
}

// Token is a persisted access/refresh token record. Records exist so that
// deletion revokes a token regardless of its signature validity.
type Token struct {
	// AccessToken is the signed access token value (the lookup key)
	AccessToken string

	// RefreshToken is the signed refresh token value.
	// Empty for client_credentials grants.
	RefreshToken string

	// ClientID is the client the tokens were issued to
	ClientID string

	// UserID is the resource owner. Empty for client_credentials grants.
	UserID string

	// Scopes are the scopes carried by this token pair
	Scopes []string

	// AccessExpiresAt is when the access token expires
	AccessExpiresAt time.Time

	// RefreshExpiresAt is when the refresh token expires.
	// Zero when no refresh token was issued.
	RefreshExpiresAt time.Time

	// CreatedAt is when the pair was issued
	CreatedAt time.Time
}

// User is a resource-owner record resolved for the userinfo endpoint.
// Users are owned by an external identity system; this is a read model.
type User struct {
	ID            string
	Name          string
	GivenName     string
	FamilyName    string
	Nickname      string
	Email         string
	EmailVerified bool
	Picture       string
	ProfileURL    string
	Type          string
	Role          string
	Bio           string
	UpdatedAt     time.Time
}

// ClientStore manages registered OAuth clients
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	// Returns ErrClientNotFound if the client is not registered.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret against its bcrypt
	// hash. Public clients always validate successfully. Implementations
	// must take the same time whether or not the client exists.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients
	ListClients(ctx context.Context) ([]*Client, error)
}

// CodeStore manages single-use authorization codes
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically retrieves and deletes a code.
	//
	// SECURITY: This operation MUST be atomic. Under concurrent exchange
	// attempts for the same code, exactly one caller receives the record;
	// all others receive ErrCodeNotFound. A plain read-then-delete is a
	// replay race and is not an acceptable implementation.
	//
	// Expired codes are deleted and reported as ErrCodeExpired.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code without returning it
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore manages issued token records
type TokenStore interface {
	// SaveToken persists an issued token pair
	SaveToken(ctx context.Context, token *Token) error

	// GetByAccessToken retrieves a record by access token value.
	// Returns ErrTokenNotFound for revoked or unknown tokens and
	// ErrTokenExpired when the stored expiry has passed.
	GetByAccessToken(ctx context.Context, accessToken string) (*Token, error)

	// ConsumeRefreshToken atomically retrieves and deletes a record by
	// refresh token value, invalidating the paired access token.
	//
	// SECURITY: This operation MUST be atomic. Under concurrent refresh
	// attempts with the same token, exactly one caller succeeds; all
	// others receive ErrTokenNotFound. This is what makes refresh tokens
	// single-use rotation tokens.
	ConsumeRefreshToken(ctx context.Context, refreshToken string) (*Token, error)

	// RevokeAccessToken removes a record by access token value
	RevokeAccessToken(ctx context.Context, accessToken string) error
}

// UserStore resolves resource-owner records
type UserStore interface {
	// GetUser retrieves a user by ID.
	// Returns ErrUserNotFound if the user does not exist.
	GetUser(ctx context.Context, userID string) (*User, error)

	// SaveUser saves a user record
	SaveUser(ctx context.Context, user *User) error
}
