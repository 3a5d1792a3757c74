package oauth

import (
	"reflect"
	"testing"
)

func TestParseScopes(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"read profile email", []string{"read", "profile", "email"}},
		{"  read   profile  ", []string{"read", "profile"}},
		{"read", []string{"read"}},
		{"", nil},
		{"   ", nil},
	}
	for _, tt := range tests {
		got := ParseScopes(tt.raw)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseScopes(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestValidateScopes(t *testing.T) {
	allowed := []string{"read", "write", "profile"}

	if !ValidateScopes([]string{"read", "profile"}, allowed) {
		t.Error("ValidateScopes() should accept a subset")
	}
	if !ValidateScopes(nil, allowed) {
		t.Error("ValidateScopes() should accept an empty request")
	}
	if ValidateScopes([]string{"read", "admin"}, allowed) {
		t.Error("ValidateScopes() should reject scopes outside the allowed set")
	}
}

func TestValidateRedirectURI_ExactMatchOnly(t *testing.T) {
	allowed := []string{"https://app.example.com/callback"}

	if !ValidateRedirectURI("https://app.example.com/callback", allowed) {
		t.Error("exact match should be accepted")
	}
	for _, uri := range []string{
		"https://app.example.com/callback/",
		"https://app.example.com/callback?x=1",
		"https://app.example.com.evil.com/callback",
		"http://app.example.com/callback",
	} {
		if ValidateRedirectURI(uri, allowed) {
			t.Errorf("ValidateRedirectURI(%q) = true, want false", uri)
		}
	}
}

func TestValidateRegistrationRedirectURI(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		ok   bool
	}{
		{"https", "https://app.example.com/callback", true},
		{"http localhost", "http://localhost:3000/callback", true},
		{"http loopback v4", "http://127.0.0.1/callback", true},
		{"http loopback v6", "http://[::1]:8000/callback", true},
		{"http remote", "http://app.example.com/callback", false},
		{"relative", "/callback", false},
		{"fragment", "https://app.example.com/callback#frag", false},
		{"custom scheme", "myapp://callback", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRegistrationRedirectURI(tt.uri)
			if (err == nil) != tt.ok {
				t.Errorf("validateRegistrationRedirectURI(%q) = %v, want ok=%v", tt.uri, err, tt.ok)
			}
		})
	}
}

func TestOAuthError_WithStatus(t *testing.T) {
	base := ErrInvalidClient("invalid client credentials")
	unauthorized := base.WithStatus(401)

	if base.Status != 400 {
		t.Errorf("WithStatus() mutated the original error, Status = %d", base.Status)
	}
	if unauthorized.Status != 401 || unauthorized.Code != ErrorCodeInvalidClient {
		t.Errorf("WithStatus() = %+v, want 401 invalid_client", unauthorized)
	}
	if unauthorized.Error() != "invalid_client: invalid client credentials" {
		t.Errorf("Error() = %q", unauthorized.Error())
	}
}
