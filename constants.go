package oauth

import "time"

// Grant types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// Response types
const (
	ResponseTypeCode = "code"
)

// Token endpoint client authentication methods
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodNone              = "none"
)

// PKCE code challenge methods
const (
	CodeChallengeMethodS256  = "S256"
	CodeChallengeMethodPlain = "plain"
)

// Endpoint paths
const (
	PathMetadata  = "/.well-known/oauth-authorization-server"
	PathAuthorize = "/oauth/authorize"
	PathToken     = "/oauth/token"
	PathRegister  = "/oauth/register"
	PathUserInfo  = "/oauth/userinfo"
)

// Scope names understood by the server
const (
	ScopeRead     = "read"
	ScopeWrite    = "write"
	ScopeProfile  = "profile"
	ScopeEmail    = "email"
	ScopeUserInfo = "user_info"
	ScopeOpenID   = "openid"
)

// DefaultCodeTTL is the default authorization code lifetime
const DefaultCodeTTL = 10 * time.Minute

// DefaultScopes is the server's global scope catalog. Registration requests
// may not ask for scopes outside this set.
var DefaultScopes = []string{
	ScopeRead,
	ScopeWrite,
	ScopeProfile,
	ScopeEmail,
	ScopeUserInfo,
	ScopeOpenID,
}

// DefaultRegistrationScope is granted when a registration request names no scopes
const DefaultRegistrationScope = "read profile email"

// supportedGrantTypes are the grant types a client may register
var supportedGrantTypes = []string{
	GrantTypeAuthorizationCode,
	GrantTypeRefreshToken,
	GrantTypeClientCredentials,
}

// supportedResponseTypes are the response types a client may register
var supportedResponseTypes = []string{ResponseTypeCode}

// supportedAuthMethods are the token endpoint auth methods a client may register
var supportedAuthMethods = []string{
	AuthMethodClientSecretBasic,
	AuthMethodClientSecretPost,
	AuthMethodNone,
}
