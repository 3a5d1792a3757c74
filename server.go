package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/noxauth/noxauth/instrumentation"
	"github.com/noxauth/noxauth/security"
	"github.com/noxauth/noxauth/storage"
	"github.com/noxauth/noxauth/token"
)

// Server implements the OAuth 2.0 authorization server flows on top of the
// storage interfaces and the token issuer. HTTP concerns live in Handler;
// Server owns the protocol state machine.
type Server struct {
	clients storage.ClientStore
	codes   storage.CodeStore
	tokens  storage.TokenStore
	users   storage.UserStore
	issuer  *token.Issuer

	auditor     *security.Auditor
	rateLimiter *security.RateLimiter
	regLimiter  *security.RegistrationRateLimiter

	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	logger *slog.Logger
	config Config
}

// NewServer creates an authorization server.
// All stores and the issuer are required.
func NewServer(clients storage.ClientStore, codes storage.CodeStore, tokens storage.TokenStore, users storage.UserStore, issuer *token.Issuer, config Config) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}

	config.applySecureDefaults()

	s := &Server{
		clients: clients,
		codes:   codes,
		tokens:  tokens,
		users:   users,
		issuer:  issuer,
		logger:  config.Logger,
		config:  config,
		auditor: security.NewAuditor(config.Logger, config.Security.EnableAuditLogging),
	}

	if config.RateLimit.Rate > 0 {
		s.rateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, config.Logger)
	}
	s.regLimiter = security.NewRegistrationRateLimiterWithConfig(
		config.RateLimit.RegistrationsPerWindow,
		config.RateLimit.RegistrationWindow,
		config.Logger,
	)

	return s, nil
}

// SetInstrumentation attaches OpenTelemetry instrumentation.
// Safe to skip; an uninstrumented server records nothing.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
	s.tracer = inst.Tracer("server")
}

// Stop releases background resources (rate limiter cleanup goroutines)
func (s *Server) Stop() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// Config returns the effective configuration after defaults
func (s *Server) Config() Config { return s.config }

// metrics returns the metrics holder, which is nil-safe
func (s *Server) metrics() *instrumentation.Metrics {
	return s.inst.Metrics()
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, name)
}

// Client retrieves a registered client by ID
func (s *Server) Client(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clients.GetClient(ctx, clientID)
}

// AuthenticateClient resolves and authenticates a client for the token and
// registration-adjacent endpoints.
//
// Unknown clients fail with invalid_client over HTTP 400. Confidential
// clients must present the correct secret; a mismatch is invalid_client
// over HTTP 401 so the handler adds a WWW-Authenticate challenge. Public
// clients authenticate by client_id alone (RFC 6749 section 2.3).
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret, remoteIP string) (*storage.Client, *OAuthError) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		s.auditor.LogAuthFailure(clientID, remoteIP, "unknown client")
		return nil, ErrInvalidClient("invalid client")
	}

	if !client.Confidential {
		return client, nil
	}

	if err := s.clients.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		s.auditor.LogAuthFailure(clientID, remoteIP, "secret mismatch")
		return nil, ErrInvalidClient("invalid client credentials").WithStatus(401)
	}
	return client, nil
}

// IssueAuthorizationCode mints and stores a single-use authorization code
// for an authenticated resource owner. Validation of response type,
// redirect URI, and scopes has already happened in the endpoint state
// machine; this enforces the PKCE policy and persists the code.
func (s *Server) IssueAuthorizationCode(ctx context.Context, client *storage.Client, userID, redirectURI string, scopes []string, challenge, method string) (*storage.AuthorizationCode, *OAuthError) {
	ctx, span := s.startSpan(ctx, "oauth.server.issue_code")
	if span != nil {
		defer span.End()
	}
	instrumentation.AddFlowAttributes(span, client.ClientID, userID, JoinScopes(scopes))

	if challenge != "" {
		if method == "" {
			method = CodeChallengeMethodS256
		}
		switch method {
		case CodeChallengeMethodS256:
		case CodeChallengeMethodPlain:
			if s.config.Security.DisablePlainPKCE {
				return nil, ErrInvalidRequest("code_challenge_method plain is not allowed")
			}
		default:
			return nil, ErrInvalidRequest("unsupported code_challenge_method")
		}
	} else {
		method = ""
		if !client.Confidential && s.config.Security.RequirePKCEForPublicClients {
			return nil, ErrInvalidRequest("public clients must use PKCE")
		}
	}

	now := time.Now()
	code := &storage.AuthorizationCode{
		Code:                generateOpaqueValue(),
		ClientID:            client.ClientID,
		UserID:              userID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.config.CodeTTL),
	}

	if err := s.codes.SaveAuthorizationCode(ctx, code); err != nil {
		instrumentation.RecordError(span, err)
		s.logger.Error("failed to save authorization code", "error", err, "client_id", client.ClientID)
		return nil, ErrServerError("failed to issue authorization code")
	}

	s.auditor.LogCodeIssued(userID, client.ClientID)
	s.metrics().RecordCodeIssued(ctx, client.ClientID)
	instrumentation.SetSpanSuccess(span)

	s.logger.Info("authorization code issued",
		"client_id", client.ClientID,
		"scopes", scopes,
		"pkce", challenge != "")
	return code, nil
}

// AllowRequest applies the per-IP request rate limit.
// Returns true when limiting is disabled.
func (s *Server) AllowRequest(identifier string) bool {
	if s.rateLimiter == nil {
		return true
	}
	if !s.rateLimiter.Allow(identifier) {
		s.auditor.LogRateLimitExceeded(identifier, "request")
		s.metrics().RecordRateLimitExceeded(context.Background(), "request")
		return false
	}
	return true
}

// Metadata builds the RFC 8414 authorization server metadata document
func (s *Server) Metadata() *AuthorizationServerMetadata {
	issuer := s.config.Issuer

	challengeMethods := []string{CodeChallengeMethodS256}
	if !s.config.Security.DisablePlainPKCE {
		challengeMethods = append(challengeMethods, CodeChallengeMethodPlain)
	}

	return &AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + PathAuthorize,
		TokenEndpoint:                     issuer + PathToken,
		UserInfoEndpoint:                  issuer + PathUserInfo,
		RegistrationEndpoint:              issuer + PathRegister,
		ScopesSupported:                   s.config.SupportedScopes,
		ResponseTypesSupported:            supportedResponseTypes,
		ResponseModesSupported:            []string{"query"},
		GrantTypesSupported:               supportedGrantTypes,
		TokenEndpointAuthMethodsSupported: supportedAuthMethods,
		CodeChallengeMethodsSupported:     challengeMethods,
		ClaimsSupported: []string{
			"sub", "name", "given_name", "family_name", "nickname",
			"picture", "profile", "updated_at", "email", "email_verified",
			"user_type", "role", "bio", "permissions",
		},
	}
}

// generateOpaqueValue returns a high-entropy opaque string (32 random
// bytes, base64url). Used for authorization codes and client secrets.
func generateOpaqueValue() string {
	return oauth2.GenerateVerifier()
}
