package oauth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/noxauth/noxauth/instrumentation"
	"github.com/noxauth/noxauth/security"
	"github.com/noxauth/noxauth/storage"
)

// RegisterClient implements RFC 7591 dynamic client registration.
//
// The request is validated field by field, defaults are applied for
// anything omitted, and the resulting client is persisted with a bcrypt
// hash of its secret. The plaintext secret appears exactly once, in the
// registration response, and only for confidential clients.
func (s *Server) RegisterClient(ctx context.Context, req *ClientRegistrationRequest, remoteIP string) (*ClientRegistrationResponse, *OAuthError) {
	ctx, span := s.startSpan(ctx, "oauth.server.register_client")
	if span != nil {
		defer span.End()
	}

	if !s.regLimiter.Allow(remoteIP) {
		s.auditor.LogRateLimitExceeded(remoteIP, "registration")
		s.metrics().RecordRateLimitExceeded(ctx, "registration")
		return nil, NewOAuthError(ErrorCodeInvalidRequest, "too many registration requests", 429)
	}

	if req.ClientName == "" {
		return nil, s.rejectRegistration(remoteIP, ErrInvalidClientMetadata("client_name is required"))
	}
	if len(req.RedirectURIs) == 0 {
		return nil, s.rejectRegistration(remoteIP, ErrInvalidClientMetadata("redirect_uris is required and must not be empty"))
	}
	for _, uri := range req.RedirectURIs {
		if oerr := validateRegistrationRedirectURI(uri); oerr != nil {
			return nil, s.rejectRegistration(remoteIP, oerr)
		}
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	for _, gt := range grantTypes {
		if !containsScope(supportedGrantTypes, gt) {
			return nil, s.rejectRegistration(remoteIP, ErrInvalidClientMetadata("unsupported grant_type: "+gt))
		}
	}

	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{ResponseTypeCode}
	}
	for _, rt := range responseTypes {
		if !containsScope(supportedResponseTypes, rt) {
			return nil, s.rejectRegistration(remoteIP, ErrInvalidClientMetadata("unsupported response_type: "+rt))
		}
	}

	scopeValue := req.Scope
	if scopeValue == "" {
		scopeValue = DefaultRegistrationScope
	}
	scopes := ParseScopes(scopeValue)
	if !ValidateScopes(scopes, s.config.SupportedScopes) {
		return nil, s.rejectRegistration(remoteIP, ErrInvalidClientMetadata("scope contains unsupported values"))
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = AuthMethodClientSecretBasic
	}
	if !containsScope(supportedAuthMethods, authMethod) {
		return nil, s.rejectRegistration(remoteIP, ErrInvalidClientMetadata("unsupported token_endpoint_auth_method: "+authMethod))
	}

	appType := req.ApplicationType
	if appType == "" {
		appType = "web"
	}
	if appType != "web" && appType != "native" {
		return nil, s.rejectRegistration(remoteIP, ErrInvalidClientMetadata("application_type must be web or native"))
	}

	// Native apps cannot keep a secret regardless of the auth method they
	// ask for, so only web clients with real authentication get one
	confidential := appType == "web" && authMethod != AuthMethodNone

	now := time.Now()
	client := &storage.Client{
		ClientID:                uuid.NewString(),
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		Scopes:                  scopes,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		Confidential:            confidential,
		CreatedAt:               now,
	}

	var clientSecret string
	if confidential {
		clientSecret = generateOpaqueValue()
		hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			s.logger.Error("failed to hash client secret", "error", err)
			return nil, ErrServerError("failed to register client")
		}
		client.ClientSecretHash = string(hash)
	} else {
		client.TokenEndpointAuthMethod = AuthMethodNone
	}

	if err := s.clients.SaveClient(ctx, client); err != nil {
		instrumentation.RecordError(span, err)
		s.logger.Error("failed to save client", "error", err)
		return nil, ErrServerError("failed to register client")
	}

	s.auditor.LogClientRegistered(client.ClientID, remoteIP, confidential)
	s.metrics().RecordClientRegistration(ctx, confidential)
	instrumentation.SetSpanSuccess(span)

	s.logger.Info("client registered",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"confidential", confidential,
		"grant_types", grantTypes)

	return &ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		ClientIDIssuedAt:        now.Unix(),
		ClientSecretExpiresAt:   0,
		ClientName:              client.ClientName,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   JoinScopes(client.Scopes),
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	}, nil
}

// rejectRegistration audits a rejected registration and passes the error through
func (s *Server) rejectRegistration(remoteIP string, oerr *OAuthError) *OAuthError {
	s.auditor.LogEvent(security.Event{
		Type:      security.EventClientRegistrationRejected,
		IPAddress: remoteIP,
		Details:   map[string]any{"error": oerr.Code, "description": oerr.Description},
	})
	return oerr
}
