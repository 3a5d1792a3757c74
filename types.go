package oauth

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server
// Metadata (RFC 8414)
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// UserInfoEndpoint is the URL of the userinfo endpoint
	UserInfoEndpoint string `json:"userinfo_endpoint,omitempty"`

	// RegistrationEndpoint is the URL of the dynamic client registration endpoint (RFC 7591)
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// ScopesSupported lists the OAuth scopes supported
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the OAuth response types supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// ResponseModesSupported lists the response modes supported
	ResponseModesSupported []string `json:"response_modes_supported,omitempty"`

	// GrantTypesSupported lists the OAuth grant types supported
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods supported
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`

	// ClaimsSupported lists the userinfo claims the server can return
	ClaimsSupported []string `json:"claims_supported,omitempty"`
}

// ClientRegistrationRequest represents a dynamic client registration
// request (RFC 7591)
type ClientRegistrationRequest struct {
	// ClientName is the human-readable name of the client (required)
	ClientName string `json:"client_name"`

	// RedirectURIs is the array of redirection URIs (required, non-empty)
	RedirectURIs []string `json:"redirect_uris"`

	// GrantTypes is the array of OAuth 2.0 grant types the client will use
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes is the array of OAuth 2.0 response types the client will use
	ResponseTypes []string `json:"response_types,omitempty"`

	// Scope is the space-separated list of scope values
	Scope string `json:"scope,omitempty"`

	// TokenEndpointAuthMethod is the requested token endpoint authentication method
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// ApplicationType is "web" or "native"
	ApplicationType string `json:"application_type,omitempty"`
}

// ClientRegistrationResponse represents a dynamic client registration
// response (RFC 7591)
type ClientRegistrationResponse struct {
	// ClientID is the unique client identifier
	ClientID string `json:"client_id"`

	// ClientSecret is present only for confidential clients
	ClientSecret string `json:"client_secret,omitempty"`

	// ClientIDIssuedAt is when the client_id was issued (unix seconds)
	ClientIDIssuedAt int64 `json:"client_id_issued_at"`

	// ClientSecretExpiresAt is when the secret expires (0 = never)
	ClientSecretExpiresAt int64 `json:"client_secret_expires_at"`

	// ClientName is the human-readable name of the client
	ClientName string `json:"client_name,omitempty"`

	// RedirectURIs is the array of registered redirection URIs
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// GrantTypes is the array of registered grant types
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes is the array of registered response types
	ResponseTypes []string `json:"response_types,omitempty"`

	// Scope is the space-separated list of registered scopes
	Scope string `json:"scope,omitempty"`

	// TokenEndpointAuthMethod is the registered authentication method
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`
}

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	// AccessToken is the access token
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the refresh token (absent for client_credentials)
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-separated scope of the access token
	Scope string `json:"scope,omitempty"`
}

// UserInfoResponse is the scope-filtered claims payload served by the
// userinfo endpoint. Pointer fields distinguish "absent" from "empty":
// a claim is only serialized when its owning scope was granted.
type UserInfoResponse struct {
	// Sub is always present
	Sub string `json:"sub"`

	// profile scope
	Name       *string `json:"name,omitempty"`
	GivenName  *string `json:"given_name,omitempty"`
	FamilyName *string `json:"family_name,omitempty"`
	Nickname   *string `json:"nickname,omitempty"`
	Picture    *string `json:"picture,omitempty"`
	Profile    *string `json:"profile,omitempty"`
	UpdatedAt  *int64  `json:"updated_at,omitempty"`

	// email scope
	Email         *string `json:"email,omitempty"`
	EmailVerified *bool   `json:"email_verified,omitempty"`

	// user_info scope
	UserType *string `json:"user_type,omitempty"`
	Role     *string `json:"role,omitempty"`
	Bio      *string `json:"bio,omitempty"`

	// read/write scopes
	Permissions []string `json:"permissions,omitempty"`
}
