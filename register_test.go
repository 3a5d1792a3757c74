package oauth

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func registrationRequest() *ClientRegistrationRequest {
	return &ClientRegistrationRequest{
		ClientName:   "Example App",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}
}

func TestRegisterClient_Defaults(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()

	resp, oerr := srv.RegisterClient(ctx, registrationRequest(), testRemoteIP)
	if oerr != nil {
		t.Fatalf("RegisterClient() error = %v", oerr)
	}
	if resp.ClientID == "" {
		t.Fatal("response is missing client_id")
	}
	if resp.ClientSecret == "" {
		t.Error("default web client should be confidential and receive a secret")
	}
	if resp.ClientSecretExpiresAt != 0 {
		t.Errorf("ClientSecretExpiresAt = %d, want 0 (never)", resp.ClientSecretExpiresAt)
	}
	if len(resp.GrantTypes) != 2 {
		t.Errorf("GrantTypes = %v, want authorization_code and refresh_token defaults", resp.GrantTypes)
	}
	if resp.Scope != DefaultRegistrationScope {
		t.Errorf("Scope = %q, want %q", resp.Scope, DefaultRegistrationScope)
	}
	if resp.TokenEndpointAuthMethod != AuthMethodClientSecretBasic {
		t.Errorf("TokenEndpointAuthMethod = %q", resp.TokenEndpointAuthMethod)
	}

	client, err := store.GetClient(ctx, resp.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if !client.Confidential {
		t.Error("stored client should be confidential")
	}
	if client.ClientSecretHash == "" || client.ClientSecretHash == resp.ClientSecret {
		t.Error("stored secret must be a hash, not the plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(resp.ClientSecret)); err != nil {
		t.Errorf("stored hash does not match the returned secret: %v", err)
	}
}

func TestRegisterClient_NativeIsPublic(t *testing.T) {
	srv, store := newTestServer(t, nil)
	req := registrationRequest()
	req.ApplicationType = "native"
	req.RedirectURIs = []string{"http://127.0.0.1/callback"}

	resp, oerr := srv.RegisterClient(context.Background(), req, testRemoteIP)
	if oerr != nil {
		t.Fatalf("RegisterClient() error = %v", oerr)
	}
	if resp.ClientSecret != "" {
		t.Error("native clients must not receive a secret")
	}
	if resp.TokenEndpointAuthMethod != AuthMethodNone {
		t.Errorf("TokenEndpointAuthMethod = %q, want none", resp.TokenEndpointAuthMethod)
	}

	client, err := store.GetClient(context.Background(), resp.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if client.Confidential {
		t.Error("native client should be public")
	}
}

func TestRegisterClient_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ClientRegistrationRequest)
		wantCode string
	}{
		{"missing name", func(r *ClientRegistrationRequest) { r.ClientName = "" }, ErrorCodeInvalidClientMetadata},
		{"missing redirect URIs", func(r *ClientRegistrationRequest) { r.RedirectURIs = nil }, ErrorCodeInvalidClientMetadata},
		{"http redirect URI", func(r *ClientRegistrationRequest) {
			r.RedirectURIs = []string{"http://app.example.com/callback"}
		}, ErrorCodeInvalidRedirectURI},
		{"unsupported grant type", func(r *ClientRegistrationRequest) {
			r.GrantTypes = []string{"implicit"}
		}, ErrorCodeInvalidClientMetadata},
		{"unsupported response type", func(r *ClientRegistrationRequest) {
			r.ResponseTypes = []string{"token"}
		}, ErrorCodeInvalidClientMetadata},
		{"scope outside catalog", func(r *ClientRegistrationRequest) {
			r.Scope = "read admin"
		}, ErrorCodeInvalidClientMetadata},
		{"unsupported auth method", func(r *ClientRegistrationRequest) {
			r.TokenEndpointAuthMethod = "private_key_jwt"
		}, ErrorCodeInvalidClientMetadata},
		{"bad application type", func(r *ClientRegistrationRequest) {
			r.ApplicationType = "desktop"
		}, ErrorCodeInvalidClientMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, nil)
			req := registrationRequest()
			tt.mutate(req)

			_, oerr := srv.RegisterClient(context.Background(), req, testRemoteIP)
			if oerr == nil {
				t.Fatal("RegisterClient() should fail")
			}
			if oerr.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", oerr.Code, tt.wantCode)
			}
		})
	}
}

func TestRegisterClient_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.RateLimit.RegistrationsPerWindow = 2
		c.RateLimit.RegistrationWindow = time.Hour
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, oerr := srv.RegisterClient(ctx, registrationRequest(), testRemoteIP); oerr != nil {
			t.Fatalf("registration %d error = %v", i, oerr)
		}
	}

	_, oerr := srv.RegisterClient(ctx, registrationRequest(), testRemoteIP)
	if oerr == nil || oerr.Status != 429 {
		t.Errorf("third registration = %v, want status 429", oerr)
	}

	// Limits are per IP
	if _, oerr := srv.RegisterClient(ctx, registrationRequest(), "198.51.100.4"); oerr != nil {
		t.Errorf("registration from another IP error = %v", oerr)
	}
}
