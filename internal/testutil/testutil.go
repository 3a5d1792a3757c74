// Package testutil provides shared fixtures for authorization server tests.
package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/noxauth/noxauth/storage"
)

// ClientSecret is the plaintext secret behind ClientSecretHash
const ClientSecret = "secret"

// ClientSecretHash is a bcrypt hash of ClientSecret, computed once at
// package init with the minimum cost so fixtures stay cheap.
var ClientSecretHash = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte(ClientSecret), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt failed: %v", err))
	}
	return string(hash)
}()

// NewConfidentialClient returns a confidential test client that may use
// every grant type.
func NewConfidentialClient() *storage.Client {
	return &storage.Client{
		ClientID:                "test-confidential",
		ClientSecretHash:        ClientSecretHash,
		ClientName:              "Test Confidential Client",
		RedirectURIs:            []string{"https://client.example.com/callback"},
		Scopes:                  []string{"read", "write", "profile", "email"},
		GrantTypes:              []string{"authorization_code", "refresh_token", "client_credentials"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
		Confidential:            true,
		CreatedAt:               time.Now().UTC(),
	}
}

// NewPublicClient returns a public (no secret) test client
func NewPublicClient() *storage.Client {
	return &storage.Client{
		ClientID:                "test-public",
		ClientName:              "Test Public Client",
		RedirectURIs:            []string{"https://app.example.com/callback", "http://127.0.0.1/callback"},
		Scopes:                  []string{"read", "profile", "email"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Confidential:            false,
		CreatedAt:               time.Now().UTC(),
	}
}

// NewUser returns a fully populated test user
func NewUser() *storage.User {
	return &storage.User{
		ID:            "user-1",
		Name:          "Ada Lovelace",
		GivenName:     "Ada",
		FamilyName:    "Lovelace",
		Nickname:      "ada",
		Email:         "ada@example.com",
		EmailVerified: true,
		Picture:       "https://example.com/ada.png",
		ProfileURL:    "https://example.com/ada",
		Type:          "person",
		Role:          "member",
		Bio:           "wrote the first program",
		UpdatedAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// NewAuthorizationCode returns a valid test code bound to the given client
// and user with an S256 challenge over Verifier.
func NewAuthorizationCode(clientID, userID string) *storage.AuthorizationCode {
	now := time.Now().UTC()
	return &storage.AuthorizationCode{
		Code:                RandomString(32),
		ClientID:            clientID,
		UserID:              userID,
		RedirectURI:         "https://client.example.com/callback",
		Scopes:              []string{"read", "profile"},
		CodeChallenge:       S256Challenge(Verifier),
		CodeChallengeMethod: "S256",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}

// NewTokenRecord returns a live token record with a refresh token
func NewTokenRecord(clientID, userID string) *storage.Token {
	now := time.Now().UTC()
	return &storage.Token{
		AccessToken:      RandomString(32),
		RefreshToken:     RandomString(32),
		ClientID:         clientID,
		UserID:           userID,
		Scopes:           []string{"read", "profile"},
		AccessExpiresAt:  now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
		CreatedAt:        now,
	}
}

// Verifier is a fixed PKCE code verifier used by code fixtures
const Verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

// S256Challenge derives the S256 code challenge for a verifier
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RandomString returns a URL-safe random string of length n
func RandomString(n int) string {
	b := make([]byte, (n*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n]
}
