package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP address from a request.
//
// When trustProxy is set, X-Forwarded-For and X-Real-IP are consulted.
// Only enable trustProxy behind a reverse proxy you control:
// X-Forwarded-For is attacker-controlled otherwise. trustedProxyCount is
// the number of proxies between the client and this server; the client IP
// is taken that many hops from the right of the X-Forwarded-For list.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipFromForwardedFor picks the client entry out of an X-Forwarded-For list.
// The list reads "client, proxy1, proxy2, ..."; the rightmost entries are
// the proxies we control, so the client sits trustedProxyCount+1 from the
// end. With fewer entries than that, the leftmost entry is used.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	candidate := strings.TrimSpace(parts[idx])
	if net.ParseIP(candidate) != nil {
		return candidate
	}
	return ""
}
