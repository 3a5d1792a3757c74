package oauth

import (
	"context"

	"github.com/noxauth/noxauth/instrumentation"
)

// UserInfo resolves the claims for a bearer access token, filtered by the
// scopes the token carries.
//
// The token must verify cryptographically and still have a live record in
// the token store; a revoked or expired token fails with invalid_token
// regardless of its signature. Claims outside the granted scopes are
// omitted entirely, not blanked.
func (s *Server) UserInfo(ctx context.Context, accessToken string) (*UserInfoResponse, *OAuthError) {
	ctx, span := s.startSpan(ctx, "oauth.server.userinfo")
	if span != nil {
		defer span.End()
	}

	claims, err := s.issuer.VerifyAccessToken(accessToken)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrInvalidToken("invalid or expired access token")
	}

	// Signature alone is not enough: revocation deletes the record
	if _, err := s.tokens.GetByAccessToken(ctx, accessToken); err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrInvalidToken("invalid or expired access token")
	}

	user, err := s.users.GetUser(ctx, claims.Subject)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrInvalidToken("token subject is not a known user")
	}

	resp := &UserInfoResponse{Sub: user.ID}

	if containsScope(claims.Scope, ScopeProfile) {
		resp.Name = optionalString(user.Name)
		resp.GivenName = optionalString(user.GivenName)
		resp.FamilyName = optionalString(user.FamilyName)
		resp.Nickname = optionalString(user.Nickname)
		resp.Picture = optionalString(user.Picture)
		resp.Profile = optionalString(user.ProfileURL)
		if !user.UpdatedAt.IsZero() {
			updated := user.UpdatedAt.Unix()
			resp.UpdatedAt = &updated
		}
	}

	if containsScope(claims.Scope, ScopeEmail) {
		resp.Email = optionalString(user.Email)
		verified := user.EmailVerified
		resp.EmailVerified = &verified
	}

	if containsScope(claims.Scope, ScopeUserInfo) {
		resp.UserType = optionalString(user.Type)
		resp.Role = optionalString(user.Role)
		resp.Bio = optionalString(user.Bio)
	}

	var permissions []string
	if containsScope(claims.Scope, ScopeRead) {
		permissions = append(permissions, ScopeRead)
	}
	if containsScope(claims.Scope, ScopeWrite) {
		permissions = append(permissions, ScopeWrite)
	}
	resp.Permissions = permissions

	s.metrics().RecordUserInfoServed(ctx, claims.ClientID)
	instrumentation.AddFlowAttributes(span, claims.ClientID, user.ID, JoinScopes(claims.Scope))
	instrumentation.SetSpanSuccess(span)

	return resp, nil
}

// optionalString returns nil for the empty string so the claim is omitted
// from the JSON response rather than serialized empty
func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
