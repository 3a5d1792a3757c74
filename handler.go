package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noxauth/noxauth/instrumentation"
	"github.com/noxauth/noxauth/security"
	"github.com/noxauth/noxauth/storage"
)

const (
	tokenTypeBearer = "Bearer"

	// maxRegistrationBodyBytes bounds the registration request body
	maxRegistrationBodyBytes = 64 * 1024

	// metadataCacheMaxAge is how long clients may cache the metadata document
	metadataCacheMaxAge = 3600
)

// Authenticator resolves the resource owner behind an authorization
// request. Implementations typically check a session cookie established
// by the login flow.
type Authenticator interface {
	// Authenticate returns the user ID for the request, or ok=false when
	// no valid session is present.
	Authenticate(r *http.Request) (userID string, ok bool)
}

// Handler exposes the authorization server over HTTP. It owns request
// parsing, status codes, and response encoding; protocol decisions live
// in Server.
type Handler struct {
	server        *Server
	authenticator Authenticator
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewHandler creates an HTTP handler for the authorization server.
// The authenticator may be nil; authorization requests then always
// redirect to the configured login URL.
func NewHandler(server *Server, authenticator Authenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		server:        server,
		authenticator: authenticator,
		logger:        logger,
	}
	if server.inst != nil {
		h.tracer = server.inst.Tracer("http")
	}
	return h
}

// Routes registers the OAuth endpoints on a router
func (h *Handler) Routes(mux interface {
	Get(pattern string, handler http.HandlerFunc)
	Post(pattern string, handler http.HandlerFunc)
}) {
	mux.Get(PathMetadata, h.ServeMetadata)
	mux.Get(PathAuthorize, h.ServeAuthorization)
	mux.Post(PathToken, h.ServeToken)
	mux.Post(PathRegister, h.ServeClientRegistration)
	mux.Get(PathUserInfo, h.ServeUserInfo)
	mux.Post(PathUserInfo, h.ServeUserInfo)
}

// ServeMetadata serves the RFC 8414 authorization server metadata document
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", metadataCacheMaxAge))
	h.writeJSON(w, http.StatusOK, h.server.Metadata())
	h.recordHTTPMetrics("metadata", http.MethodGet, http.StatusOK, startTime)
}

// ServeAuthorization handles the authorization endpoint.
//
// Errors detected before the redirect URI is validated are returned as
// direct JSON responses; the server never redirects to an address it has
// not verified. Once the redirect URI checks out, errors travel back to
// the client via the error query parameter per RFC 6749 section 4.1.2.1.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if !h.server.AllowRequest(clientIP) {
		h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusTooManyRequests, startTime)
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "too many requests", http.StatusTooManyRequests))
		return
	}

	q := r.URL.Query()
	responseType := q.Get("response_type")
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	scope := q.Get("scope")
	state := q.Get("state")
	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")

	if responseType == "" || clientID == "" || redirectURI == "" {
		h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "required parameter missing")
		h.writeError(w, ErrInvalidRequest("response_type, client_id and redirect_uri are required"))
		return
	}
	if responseType != ResponseTypeCode {
		h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "unsupported response_type")
		h.writeError(w, ErrUnsupportedResponseType("only response_type=code is supported"))
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrPKCEMethod, codeChallengeMethod),
	)

	client, err := h.server.Client(ctx, clientID)
	if err != nil {
		h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "unknown client")
		h.writeError(w, ErrInvalidClient("unknown client"))
		return
	}

	if !ValidateRedirectURI(redirectURI, client.RedirectURIs) {
		// Never redirect to an unregistered URI, not even with an error
		h.server.auditor.LogEvent(security.Event{
			Type:      security.EventInvalidRedirect,
			ClientID:  clientID,
			IPAddress: clientIP,
		})
		h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "redirect_uri not registered")
		h.writeError(w, ErrInvalidRequest("redirect_uri is not registered for this client"))
		return
	}

	// From here on the redirect URI is trusted; errors go back via redirect
	scopes := ParseScopes(scope)
	if !ValidateScopes(scopes, client.Scopes) {
		h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusFound, startTime)
		h.redirectError(w, r, redirectURI, state, ErrInvalidScope("requested scope exceeds client's registered scopes"))
		return
	}

	userID, ok := h.authenticateUser(r)
	if !ok {
		h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusFound, startTime)
		instrumentation.SetSpanSuccess(span)
		h.redirectToLogin(w, r)
		return
	}

	// An authenticated session for a user that no longer exists denies
	// the request rather than minting a code for a dangling subject
	if _, err := h.server.users.GetUser(ctx, userID); err != nil {
		h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusFound, startTime)
		instrumentation.SetSpanError(span, "unknown user")
		h.redirectError(w, r, redirectURI, state, ErrAccessDenied("user account is not available"))
		return
	}

	code, oerr := h.server.IssueAuthorizationCode(ctx, client, userID, redirectURI, scopes, codeChallenge, codeChallengeMethod)
	if oerr != nil {
		h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusFound, startTime)
		instrumentation.SetSpanError(span, oerr.Code)
		h.redirectError(w, r, redirectURI, state, oerr)
		return
	}

	h.recordHTTPMetrics("authorization", http.MethodGet, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	params := url.Values{"code": {code.Code}}
	if state != "" {
		params.Set("state", state)
	}
	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

// ServeToken handles the token endpoint for all three grant types
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if !h.server.AllowRequest(clientIP) {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusTooManyRequests, startTime)
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "too many requests", http.StatusTooManyRequests))
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidRequest("failed to parse request body"))
		return
	}

	grantType := r.PostFormValue("grant_type")
	if grantType == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "grant_type missing")
		h.writeError(w, ErrInvalidRequest("grant_type is required"))
		return
	}

	client, oerr := h.authenticateClient(ctx, r, clientIP)
	if oerr != nil {
		h.recordHTTPMetrics("token", http.MethodPost, oerr.Status, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, oerr)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrGrantType, grantType),
	)

	var resp *TokenResponse
	switch grantType {
	case GrantTypeAuthorizationCode:
		resp, oerr = h.server.ExchangeAuthorizationCode(ctx, client,
			r.PostFormValue("code"),
			r.PostFormValue("redirect_uri"),
			r.PostFormValue("code_verifier"),
			clientIP)
	case GrantTypeRefreshToken:
		resp, oerr = h.server.RefreshAccessToken(ctx, client,
			r.PostFormValue("refresh_token"),
			r.PostFormValue("scope"),
			clientIP)
	case GrantTypeClientCredentials:
		if !client.AllowsGrantType(GrantTypeClientCredentials) {
			oerr = ErrUnauthorizedClient("client is not registered for the client_credentials grant")
			break
		}
		resp, oerr = h.server.ClientCredentials(ctx, client, r.PostFormValue("scope"))
	default:
		oerr = ErrUnsupportedGrantType(fmt.Sprintf("grant type %q is not supported", grantType))
	}

	if oerr != nil {
		h.recordHTTPMetrics("token", http.MethodPost, oerr.Status, startTime)
		instrumentation.SetSpanError(span, oerr.Code)
		h.writeError(w, oerr)
		return
	}

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	security.SetNoStoreHeaders(w)
	h.writeJSON(w, http.StatusOK, resp)
}

// ServeClientRegistration handles RFC 7591 dynamic client registration
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.register")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("register", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ClientRegistrationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRegistrationBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidClientMetadata("request body must be a JSON object"))
		return
	}

	resp, oerr := h.server.RegisterClient(ctx, &req, h.clientIP(r))
	if oerr != nil {
		h.recordHTTPMetrics("register", http.MethodPost, oerr.Status, startTime)
		instrumentation.SetSpanError(span, oerr.Code)
		h.writeError(w, oerr)
		return
	}

	h.recordHTTPMetrics("register", http.MethodPost, http.StatusCreated, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	security.SetNoStoreHeaders(w)
	h.writeJSON(w, http.StatusCreated, resp)
}

// ServeUserInfo serves the claims for a bearer access token
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.userinfo")
		defer span.End()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics("userinfo", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := extractBearerToken(r)
	if !ok {
		h.recordHTTPMetrics("userinfo", r.Method, http.StatusUnauthorized, startTime)
		// Per RFC 6750 section 3.1 a request with no token gets a bare
		// challenge without an error code
		security.SetSecurityHeaders(w, h.server.config.Issuer)
		w.Header().Set("WWW-Authenticate", `Bearer realm="OAuth2"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	resp, oerr := h.server.UserInfo(ctx, token)
	if oerr != nil {
		h.recordHTTPMetrics("userinfo", r.Method, oerr.Status, startTime)
		instrumentation.SetSpanError(span, oerr.Code)
		security.SetSecurityHeaders(w, h.server.config.Issuer)
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer realm="OAuth2", error=%q, error_description=%q`, oerr.Code, oerr.Description))
		h.writeJSON(w, oerr.Status, &ErrorResponse{Error: oerr.Code, ErrorDescription: oerr.Description})
		return
	}

	h.recordHTTPMetrics("userinfo", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	security.SetNoStoreHeaders(w)
	h.writeJSON(w, http.StatusOK, resp)
}

// authenticateClient resolves client credentials from HTTP Basic auth or
// the request body (client_secret_basic and client_secret_post) and
// delegates authentication to the server.
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request, clientIP string) (*storage.Client, *OAuthError) {
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")

	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		// Basic credentials are form-urlencoded inside the header
		// (RFC 6749 section 2.3.1)
		if id, err := url.QueryUnescape(basicID); err == nil {
			clientID = id
		}
		if secret, err := url.QueryUnescape(basicSecret); err == nil {
			clientSecret = secret
		}
	}

	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	return h.server.AuthenticateClient(ctx, clientID, clientSecret, clientIP)
}

// authenticateUser resolves the resource owner for an authorization request
func (h *Handler) authenticateUser(r *http.Request) (string, bool) {
	if h.authenticator == nil {
		return "", false
	}
	return h.authenticator.Authenticate(r)
}

// redirectToLogin forwards an unauthenticated authorization request to
// the login collaborator with the original query preserved so the flow
// can resume after login.
func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	if h.server.config.LoginURL == "" {
		h.writeError(w, ErrAccessDenied("authentication is required and no login URL is configured"))
		return
	}
	params := url.Values{"return_to": {r.URL.RequestURI()}}
	http.Redirect(w, r, appendQuery(h.server.config.LoginURL, params), http.StatusFound)
}

// redirectError sends an OAuth error back to the client's validated
// redirect URI (RFC 6749 section 4.1.2.1)
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, oerr *OAuthError) {
	params := url.Values{"error": {oerr.Code}}
	if oerr.Description != "" {
		params.Set("error_description", oerr.Description)
	}
	if state != "" {
		params.Set("state", state)
	}
	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

// writeError writes an OAuth error as a JSON response with the proper
// status and headers
func (h *Handler) writeError(w http.ResponseWriter, oerr *OAuthError) {
	security.SetSecurityHeaders(w, h.server.config.Issuer)
	security.SetNoStoreHeaders(w)

	if oerr.Status == http.StatusUnauthorized && oerr.Code == ErrorCodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="noxauth"`)
	}

	h.writeJSON(w, oerr.Status, &ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	durationMs := time.Since(startTime).Seconds() * 1000
	h.server.metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, durationMs)
}

func (h *Handler) clientIP(r *http.Request) string {
	cfg := h.server.config.RateLimit
	return security.ClientIP(r, cfg.TrustProxy, cfg.TrustedProxyCount)
}

// extractBearerToken pulls the access token out of the Authorization
// header, or the access_token form field for POST requests (RFC 6750
// sections 2.1 and 2.2)
func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], tokenTypeBearer) && parts[1] != "" {
			return parts[1], true
		}
		return "", false
	}
	if r.Method == http.MethodPost {
		if token := r.PostFormValue("access_token"); token != "" {
			return token, true
		}
	}
	return "", false
}

// appendQuery adds parameters to a URL, preserving any query it already
// carries. Registered redirect URIs may legitimately contain queries of
// their own.
func appendQuery(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// The URL was validated at registration; fall back to naive append
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + params.Encode()
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
