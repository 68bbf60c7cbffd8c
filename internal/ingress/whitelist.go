package ingress

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// requestOrigin extracts the declared origin of a callback request, falling
// back to Referer when no Origin header is present.
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	return r.Header.Get("Referer")
}

// originAllowed compares the request origin host case-insensitively against
// the union of the environment host and the notification's whitelist.
func originAllowed(origin, envHost string, whitelist []string) bool {
	host := normalizeHost(origin)
	if host == "" {
		return false
	}
	if host == normalizeHost(envHost) {
		return true
	}
	for _, w := range whitelist {
		if host == normalizeHost(w) {
			return true
		}
	}
	return false
}

// normalizeHost reduces a host, host:port or full URL to a lower-case
// hostname.
func normalizeHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(strings.TrimSuffix(s, "/"))
}
