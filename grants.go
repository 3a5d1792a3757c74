package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/noxauth/noxauth/instrumentation"
	"github.com/noxauth/noxauth/security"
	"github.com/noxauth/noxauth/storage"
)

// ExchangeAuthorizationCode implements the authorization_code grant for an
// already-authenticated client.
//
// The code is consumed atomically before any validation that references
// it, so every outcome (success, expiry, client or redirect mismatch,
// PKCE failure) leaves the code unusable. A consumed or never-issued code
// is indistinguishable from the outside.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, client *storage.Client, codeValue, redirectURI, codeVerifier, remoteIP string) (*TokenResponse, *OAuthError) {
	ctx, span := s.startSpan(ctx, "oauth.server.exchange_code")
	if span != nil {
		defer span.End()
	}

	if codeValue == "" || redirectURI == "" {
		return nil, ErrInvalidRequest("code and redirect_uri are required")
	}

	code, err := s.codes.ConsumeAuthorizationCode(ctx, codeValue)
	if err != nil {
		instrumentation.RecordError(span, err)
		if errors.Is(err, storage.ErrCodeNotFound) {
			s.auditor.LogCodeReuseAttempt(client.ClientID, remoteIP)
			s.metrics().RecordCodeReuseDetected(ctx)
		}
		// Absent, consumed, and expired all collapse to the same error so
		// the endpoint does not reveal whether a code ever existed
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}

	if code.ClientID != client.ClientID {
		s.logger.Warn("authorization code presented by wrong client",
			"issued_to", code.ClientID, "presented_by", client.ClientID)
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}
	if code.RedirectURI != redirectURI {
		s.logger.Warn("redirect_uri mismatch at code exchange", "client_id", client.ClientID)
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}

	pkceMethod := "none"
	if code.CodeChallenge != "" {
		pkceMethod = code.CodeChallengeMethod
		if codeVerifier == "" {
			return nil, ErrInvalidRequest("code_verifier is required")
		}
		if !VerifyChallenge(codeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
			s.metrics().RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
			s.auditor.LogEvent(security.Event{
				Type:      security.EventPKCEValidationFailed,
				ClientID:  client.ClientID,
				IPAddress: remoteIP,
				Details:   map[string]any{"method": code.CodeChallengeMethod},
			})
			return nil, ErrInvalidGrant("code verifier validation failed")
		}
	}

	if _, err := s.users.GetUser(ctx, code.UserID); err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrInvalidGrant("authorization is no longer valid")
	}

	resp, oerr := s.mintTokenPair(ctx, code.UserID, client.ClientID, code.Scopes, true)
	if oerr != nil {
		return nil, oerr
	}

	s.auditor.LogTokenIssued(code.UserID, client.ClientID, code.Scopes)
	s.metrics().RecordCodeExchange(ctx, client.ClientID, pkceMethod)
	instrumentation.AddFlowAttributes(span, client.ClientID, code.UserID, JoinScopes(code.Scopes))
	instrumentation.SetSpanSuccess(span)

	s.logger.Info("authorization code exchanged",
		"client_id", client.ClientID,
		"scopes", code.Scopes,
		"pkce_method", pkceMethod)
	return resp, nil
}

// RefreshAccessToken implements the refresh_token grant with single-use
// rotation. The stored record is consumed atomically; a second use of the
// same refresh token fails and is audited as a reuse attempt.
func (s *Server) RefreshAccessToken(ctx context.Context, client *storage.Client, refreshToken, scopeParam, remoteIP string) (*TokenResponse, *OAuthError) {
	ctx, span := s.startSpan(ctx, "oauth.server.refresh_token")
	if span != nil {
		defer span.End()
	}

	if refreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	claims, err := s.issuer.VerifyRefreshToken(refreshToken)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	// A valid signature is not enough: the token must belong to the
	// client presenting it
	if claims.ClientID != client.ClientID {
		s.logger.Warn("refresh token presented by wrong client",
			"issued_to", claims.ClientID, "presented_by", client.ClientID)
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	record, err := s.tokens.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		instrumentation.RecordError(span, err)
		if errors.Is(err, storage.ErrTokenNotFound) {
			// Signature checks passed but the record is gone: the token
			// was rotated out and is being replayed
			s.auditor.LogRefreshReuseAttempt(client.ClientID, remoteIP)
			s.metrics().RecordTokenReuseDetected(ctx)
		}
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	scopes := record.Scopes
	if scopeParam != "" {
		requested := ParseScopes(scopeParam)
		if !ValidateScopes(requested, record.Scopes) {
			s.auditor.LogEvent(security.Event{
				Type:      security.EventScopeEscalationAttempt,
				ClientID:  client.ClientID,
				IPAddress: remoteIP,
				Details:   map[string]any{"requested": scopeParam},
			})
			return nil, ErrInvalidScope("requested scope exceeds originally granted scope")
		}
		// Scope may only narrow across a refresh, never widen
		scopes = requested
	}

	resp, oerr := s.mintTokenPair(ctx, record.UserID, client.ClientID, scopes, true)
	if oerr != nil {
		return nil, oerr
	}

	s.auditor.LogTokenRefreshed(record.UserID, client.ClientID)
	s.metrics().RecordTokenRefresh(ctx, client.ClientID)
	instrumentation.AddFlowAttributes(span, client.ClientID, record.UserID, JoinScopes(scopes))
	instrumentation.SetSpanSuccess(span)

	s.logger.Info("refresh token rotated", "client_id", client.ClientID, "scopes", scopes)
	return resp, nil
}

// ClientCredentials implements the client_credentials grant. Only
// confidential clients may use it; the response carries an access token
// only, with the client itself as the subject.
func (s *Server) ClientCredentials(ctx context.Context, client *storage.Client, scopeParam string) (*TokenResponse, *OAuthError) {
	ctx, span := s.startSpan(ctx, "oauth.server.client_credentials")
	if span != nil {
		defer span.End()
	}

	if !client.Confidential {
		return nil, ErrUnauthorizedClient("client_credentials grant requires a confidential client")
	}

	scopes := ParseScopes(scopeParam)
	if !ValidateScopes(scopes, client.Scopes) {
		return nil, ErrInvalidScope("requested scope exceeds client's registered scopes")
	}

	resp, oerr := s.mintTokenPair(ctx, client.ClientID, client.ClientID, scopes, false)
	if oerr != nil {
		return nil, oerr
	}

	s.auditor.LogTokenIssued("", client.ClientID, scopes)
	instrumentation.AddFlowAttributes(span, client.ClientID, "", JoinScopes(scopes))
	instrumentation.SetSpanSuccess(span)

	s.logger.Info("client credentials token issued", "client_id", client.ClientID, "scopes", scopes)
	return resp, nil
}

// mintTokenPair signs a token pair, persists the record, and builds the
// wire response. The subject is the user for user-delegated grants and
// the client itself for client_credentials; withRefresh controls whether
// a refresh token is issued.
func (s *Server) mintTokenPair(ctx context.Context, subject, clientID string, scopes []string, withRefresh bool) (*TokenResponse, *OAuthError) {
	accessToken, accessExp, err := s.issuer.IssueAccessToken(subject, clientID, scopes)
	if err != nil {
		s.logger.Error("failed to sign access token", "error", err, "client_id", clientID)
		return nil, ErrServerError("failed to issue tokens")
	}

	record := &storage.Token{
		AccessToken:     accessToken,
		ClientID:        clientID,
		Scopes:          scopes,
		AccessExpiresAt: accessExp,
		CreatedAt:       time.Now(),
	}

	var refreshToken string
	if withRefresh {
		var refreshExp time.Time
		refreshToken, refreshExp, err = s.issuer.IssueRefreshToken(subject, clientID, scopes)
		if err != nil {
			s.logger.Error("failed to sign refresh token", "error", err, "client_id", clientID)
			return nil, ErrServerError("failed to issue tokens")
		}
		record.RefreshToken = refreshToken
		record.RefreshExpiresAt = refreshExp
		record.UserID = subject
	}

	if err := s.tokens.SaveToken(ctx, record); err != nil {
		s.logger.Error("failed to persist token record", "error", err, "client_id", clientID)
		return nil, ErrServerError("failed to issue tokens")
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
		RefreshToken: refreshToken,
		Scope:        JoinScopes(scopes),
	}, nil
}
