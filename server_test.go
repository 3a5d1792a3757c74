package oauth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/noxauth/noxauth/internal/testutil"
	"github.com/noxauth/noxauth/storage"
	"github.com/noxauth/noxauth/storage/memory"
	"github.com/noxauth/noxauth/token"
)

const (
	testIssuerURL = "https://auth.example.com"
	testUserID    = "user-1"
	testRemoteIP  = "203.0.113.7"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIssuer(t *testing.T) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer(token.Config{
		Issuer:     testIssuerURL,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return issuer
}

// newTestServer builds a server on a fresh in-memory store with a
// confidential client, a public client, and a user already saved.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	config := Config{
		Issuer:   testIssuerURL,
		LoginURL: testIssuerURL + "/login",
		Logger:   testLogger(),
	}
	if mutate != nil {
		mutate(&config)
	}

	srv, err := NewServer(store, store, store, store, newTestIssuer(t), config)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(srv.Stop)

	ctx := context.Background()
	for _, client := range []*storage.Client{testutil.NewConfidentialClient(), testutil.NewPublicClient()} {
		if err := store.SaveClient(ctx, client); err != nil {
			t.Fatalf("SaveClient() error = %v", err)
		}
	}
	user := testutil.NewUser()
	user.ID = testUserID
	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	return srv, store
}

func TestNewServer_RequiredDependencies(t *testing.T) {
	store := memory.New()
	defer store.Stop()
	issuer := newTestIssuer(t)
	config := Config{Issuer: testIssuerURL}

	if _, err := NewServer(nil, store, store, store, issuer, config); err == nil {
		t.Error("NewServer() without a client store should return error")
	}
	if _, err := NewServer(store, store, store, store, nil, config); err == nil {
		t.Error("NewServer() without an issuer should return error")
	}
	if _, err := NewServer(store, store, store, store, issuer, Config{}); err == nil {
		t.Error("NewServer() without an issuer URL should return error")
	}
}

func TestServer_AuthenticateClient(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	t.Run("confidential with correct secret", func(t *testing.T) {
		client, oerr := srv.AuthenticateClient(ctx, "test-confidential", testutil.ClientSecret, testRemoteIP)
		if oerr != nil {
			t.Fatalf("AuthenticateClient() error = %v", oerr)
		}
		if client.ClientID != "test-confidential" {
			t.Errorf("ClientID = %q", client.ClientID)
		}
	})

	t.Run("confidential with wrong secret", func(t *testing.T) {
		_, oerr := srv.AuthenticateClient(ctx, "test-confidential", "wrong", testRemoteIP)
		if oerr == nil {
			t.Fatal("AuthenticateClient() with wrong secret should fail")
		}
		if oerr.Code != ErrorCodeInvalidClient || oerr.Status != http.StatusUnauthorized {
			t.Errorf("error = %s status %d, want invalid_client 401", oerr.Code, oerr.Status)
		}
	})

	t.Run("public by client_id alone", func(t *testing.T) {
		_, oerr := srv.AuthenticateClient(ctx, "test-public", "", testRemoteIP)
		if oerr != nil {
			t.Fatalf("AuthenticateClient() for public client error = %v", oerr)
		}
	})

	t.Run("unknown client", func(t *testing.T) {
		_, oerr := srv.AuthenticateClient(ctx, "no-such-client", "", testRemoteIP)
		if oerr == nil {
			t.Fatal("AuthenticateClient() for unknown client should fail")
		}
		if oerr.Code != ErrorCodeInvalidClient || oerr.Status != http.StatusBadRequest {
			t.Errorf("error = %s status %d, want invalid_client 400", oerr.Code, oerr.Status)
		}
	})
}

func TestServer_IssueAuthorizationCode(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	client := testutil.NewConfidentialClient()

	code, oerr := srv.IssueAuthorizationCode(ctx, client, testUserID,
		client.RedirectURIs[0], []string{"read"}, testutil.S256Challenge(testutil.Verifier), CodeChallengeMethodS256)
	if oerr != nil {
		t.Fatalf("IssueAuthorizationCode() error = %v", oerr)
	}
	if code.Code == "" {
		t.Error("issued code value is empty")
	}
	if code.ExpiresAt.Before(time.Now()) {
		t.Error("issued code is already expired")
	}
	if code.CodeChallengeMethod != CodeChallengeMethodS256 {
		t.Errorf("CodeChallengeMethod = %q", code.CodeChallengeMethod)
	}
}

func TestServer_IssueAuthorizationCode_DefaultsChallengeMethod(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	code, oerr := srv.IssueAuthorizationCode(context.Background(), testutil.NewConfidentialClient(),
		testUserID, "https://client.example.com/callback", []string{"read"},
		testutil.S256Challenge(testutil.Verifier), "")
	if oerr != nil {
		t.Fatalf("IssueAuthorizationCode() error = %v", oerr)
	}
	if code.CodeChallengeMethod != CodeChallengeMethodS256 {
		t.Errorf("CodeChallengeMethod = %q, want S256 default", code.CodeChallengeMethod)
	}
}

func TestServer_IssueAuthorizationCode_PlainDisabled(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.Security.DisablePlainPKCE = true
	})

	_, oerr := srv.IssueAuthorizationCode(context.Background(), testutil.NewConfidentialClient(),
		testUserID, "https://client.example.com/callback", []string{"read"},
		testutil.Verifier, CodeChallengeMethodPlain)
	if oerr == nil || oerr.Code != ErrorCodeInvalidRequest {
		t.Errorf("plain PKCE with DisablePlainPKCE should fail invalid_request, got %v", oerr)
	}
}

func TestServer_IssueAuthorizationCode_PublicRequiresPKCE(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.Security.RequirePKCEForPublicClients = true
	})

	_, oerr := srv.IssueAuthorizationCode(context.Background(), testutil.NewPublicClient(),
		testUserID, "https://app.example.com/callback", []string{"read"}, "", "")
	if oerr == nil || oerr.Code != ErrorCodeInvalidRequest {
		t.Errorf("public client without PKCE should fail invalid_request, got %v", oerr)
	}
}

func TestServer_Metadata(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	md := srv.Metadata()
	if md.Issuer != testIssuerURL {
		t.Errorf("Issuer = %q", md.Issuer)
	}
	if md.AuthorizationEndpoint != testIssuerURL+PathAuthorize {
		t.Errorf("AuthorizationEndpoint = %q", md.AuthorizationEndpoint)
	}
	if md.TokenEndpoint != testIssuerURL+PathToken {
		t.Errorf("TokenEndpoint = %q", md.TokenEndpoint)
	}
	if len(md.GrantTypesSupported) != 3 {
		t.Errorf("GrantTypesSupported = %v", md.GrantTypesSupported)
	}
	found := false
	for _, m := range md.CodeChallengeMethodsSupported {
		if m == CodeChallengeMethodS256 {
			found = true
		}
	}
	if !found {
		t.Error("metadata should advertise S256")
	}
}

func TestServer_Metadata_PlainSuppressedWhenDisabled(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.Security.DisablePlainPKCE = true
	})

	for _, m := range srv.Metadata().CodeChallengeMethodsSupported {
		if m == CodeChallengeMethodPlain {
			t.Error("metadata should not advertise plain when it is disabled")
		}
	}
}

func TestServer_AllowRequest(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.RateLimit.Rate = 1
		c.RateLimit.Burst = 2
	})

	if !srv.AllowRequest("10.0.0.1") {
		t.Fatal("first request should pass")
	}
	srv.AllowRequest("10.0.0.1")
	if srv.AllowRequest("10.0.0.1") {
		t.Error("request beyond the burst should be limited")
	}
	if !srv.AllowRequest("10.0.0.2") {
		t.Error("limits are per IP, a different IP should pass")
	}
}
