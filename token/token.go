// Package token signs and verifies the bearer tokens issued by the server.
//
// Tokens are JWTs signed with an Ed25519 key held by the server. Signature
// validity is necessary but not sufficient: callers must also consult the
// token store so that deleted records revoke unexpired tokens.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TypeRefresh marks refresh tokens so an access token cannot be
	// presented where a refresh token is required and vice versa
	TypeRefresh = "refresh"

	// TypeSession marks session tokens used by the login cookie bridge
	TypeSession = "session"

	// DefaultAccessTTL is the default access token lifetime
	DefaultAccessTTL = time.Hour

	// DefaultRefreshTTL is the default refresh token lifetime (90 days)
	DefaultRefreshTTL = 90 * 24 * time.Hour

	// DefaultSessionTTL is the default session token lifetime
	DefaultSessionTTL = 24 * time.Hour
)

// Sentinel errors for verification failures
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrWrongTokenUse = errors.New("token presented for wrong use")
)

// Claims are the claims carried by issued tokens
type Claims struct {
	// ClientID is the client the token was issued to
	ClientID string `json:"client_id,omitempty"`

	// Scope is the list of granted scopes
	Scope []string `json:"scope,omitempty"`

	// TokenType distinguishes refresh and session tokens.
	// Access tokens carry no token_type claim.
	TokenType string `json:"token_type,omitempty"`

	jwtv5.RegisteredClaims
}

// Config configures an Issuer
type Config struct {
	// Issuer is the iss claim on access tokens (the server's issuer URL)
	Issuer string

	// Seed is the Ed25519 private key seed (32 bytes).
	// A random key is generated when nil; tokens then do not survive
	// restarts, which is fine for development.
	Seed []byte

	// KeyID is placed in the kid header of issued tokens
	KeyID string

	// AccessTTL, RefreshTTL, and SessionTTL override the default lifetimes
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration
}

// Issuer signs and verifies tokens with a server-held Ed25519 key
type Issuer struct {
	issuer     string
	keyID      string
	priv       ed25519.PrivateKey
	pub        ed25519.PublicKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	sessionTTL time.Duration

	// now is replaceable for tests
	now func() time.Time
}

// NewIssuer creates a token issuer from the given configuration
func NewIssuer(cfg Config) (*Issuer, error) {
	var priv ed25519.PrivateKey
	switch {
	case cfg.Seed == nil:
		var err error
		_, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	case len(cfg.Seed) == ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(cfg.Seed)
	default:
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(cfg.Seed))
	}

	i := &Issuer{
		issuer:     cfg.Issuer,
		keyID:      cfg.KeyID,
		priv:       priv,
		pub:        priv.Public().(ed25519.PublicKey),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		sessionTTL: cfg.SessionTTL,
		now:        time.Now,
	}
	if i.keyID == "" {
		i.keyID = "noxauth-1"
	}
	if i.accessTTL <= 0 {
		i.accessTTL = DefaultAccessTTL
	}
	if i.refreshTTL <= 0 {
		i.refreshTTL = DefaultRefreshTTL
	}
	if i.sessionTTL <= 0 {
		i.sessionTTL = DefaultSessionTTL
	}
	return i, nil
}

// AccessTTL returns the configured access token lifetime
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh token lifetime
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

func (i *Issuer) sign(claims *Claims) (string, error) {
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = i.keyID
	signed, err := tk.SignedString(i.priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// IssueAccessToken issues a signed access token for the given subject,
// client, and scopes. Returns the token and its expiry.
func (i *Issuer) IssueAccessToken(subject, clientID string, scopes []string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.accessTTL)
	claims := &Claims{
		ClientID: clientID,
		Scope:    scopes,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwtv5.ClaimStrings{clientID},
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := i.sign(claims)
	return signed, expiresAt, err
}

// IssueRefreshToken issues a signed refresh token carrying token_type
// "refresh". Returns the token and its expiry. The jti claim makes every
// issued token unique; rotation depends on the replacement differing from
// the token it replaces even within the same second.
func (i *Issuer) IssueRefreshToken(subject, clientID string, scopes []string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.refreshTTL)
	claims := &Claims{
		ClientID:  clientID,
		Scope:     scopes,
		TokenType: TypeRefresh,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := i.sign(claims)
	return signed, expiresAt, err
}

// IssueSessionToken issues a signed session token for the login cookie
// bridge used by the bundled binary.
func (i *Issuer) IssueSessionToken(subject string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.sessionTTL)
	claims := &Claims{
		TokenType: TypeSession,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := i.sign(claims)
	return signed, expiresAt, err
}

func (i *Issuer) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwtv5.ParseWithClaims(raw, claims, func(tk *jwtv5.Token) (any, error) {
		if _, ok := tk.Method.(*jwtv5.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tk.Header["alg"])
		}
		return i.pub, nil
	}, jwtv5.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// VerifyAccessToken verifies an access token's signature and expiry and
// returns its claims. Tokens missing sub, client_id, or scope are rejected,
// as are refresh and session tokens presented as access tokens.
func (i *Issuer) VerifyAccessToken(raw string) (*Claims, error) {
	claims, err := i.parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "" {
		return nil, fmt.Errorf("%w: %s token presented as access token", ErrWrongTokenUse, claims.TokenType)
	}
	if claims.Subject == "" || claims.ClientID == "" || claims.Scope == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyRefreshToken verifies a refresh token's signature and expiry and
// returns its claims. Tokens without token_type "refresh" are rejected.
func (i *Issuer) VerifyRefreshToken(raw string) (*Claims, error) {
	claims, err := i.parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrWrongTokenUse)
	}
	if claims.Subject == "" || claims.ClientID == "" {
		return nil, fmt.Errorf("%w: missing required claims", ErrInvalidToken)
	}
	return claims, nil
}

// VerifySessionToken verifies a session token and returns the subject
func (i *Issuer) VerifySessionToken(raw string) (string, error) {
	claims, err := i.parse(raw)
	if err != nil {
		return "", err
	}
	if claims.TokenType != TypeSession {
		return "", fmt.Errorf("%w: not a session token", ErrWrongTokenUse)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
