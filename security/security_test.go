package security

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSetSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w, "https://auth.example.com")

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS header should be set for https server URL")
	}

	w = httptest.NewRecorder()
	SetSecurityHeaders(w, "http://localhost:8080")
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS header should not be set for http server URL")
	}
}

func TestSetNoStoreHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetNoStoreHeaders(w)

	if got := w.Header().Get("Pragma"); got != "no-cache" {
		t.Errorf("Pragma = %q, want no-cache", got)
	}
	if got := w.Header().Get("Cache-Control"); got == "" {
		t.Error("Cache-Control should be set")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		trustProxy bool
		proxyCount int
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "10.0.0.1:54321",
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded-for ignored without trust",
			remoteAddr: "10.0.0.1:54321",
			xff:        "1.2.3.4",
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded-for with one trusted proxy",
			remoteAddr: "10.0.0.1:54321",
			xff:        "1.2.3.4, 10.0.0.1",
			trustProxy: true,
			proxyCount: 1,
			want:       "1.2.3.4",
		},
		{
			name:       "real-ip fallback",
			remoteAddr: "10.0.0.1:54321",
			xRealIP:    "5.6.7.8",
			trustProxy: true,
			want:       "5.6.7.8",
		},
		{
			name:       "garbage forwarded-for falls through",
			remoteAddr: "10.0.0.1:54321",
			xff:        "not-an-ip, also-bad",
			trustProxy: true,
			proxyCount: 1,
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := ClientIP(r, tt.trustProxy, tt.proxyCount); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	if IsExpired(time.Time{}) {
		t.Error("zero time should never be expired")
	}
	if IsExpired(time.Now().Add(time.Minute)) {
		t.Error("future expiry should not be expired")
	}
	if !IsExpired(time.Now().Add(-time.Minute)) {
		t.Error("past expiry should be expired")
	}
	// Inside the grace period
	if IsExpired(time.Now().Add(-time.Second)) {
		t.Error("expiry within grace period should not be expired")
	}
}

func TestAuditorHashesUserID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	a := NewAuditor(logger, true)
	a.LogTokenIssued("user-123", "client-1", []string{"read"})

	out := buf.String()
	if bytes.Contains([]byte(out), []byte("user-123")) {
		t.Error("audit log should not contain the raw user ID")
	}
	if !bytes.Contains([]byte(out), []byte("user_id_hash")) {
		t.Error("audit log should contain the hashed user ID")
	}
	if !bytes.Contains([]byte(out), []byte(EventTokenIssued)) {
		t.Errorf("audit log should contain event type %q", EventTokenIssued)
	}
}

func TestAuditorDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	a := NewAuditor(logger, false)
	a.LogAuthFailure("client-1", "1.2.3.4", "bad secret")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote output: %s", buf.String())
	}
}
