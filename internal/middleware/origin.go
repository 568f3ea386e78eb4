package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/neboloop/tabrelay/internal/httputil"
)

// IsExtensionOrigin reports whether origin belongs to a browser extension page.
func IsExtensionOrigin(origin string) bool {
	return strings.HasPrefix(origin, "chrome-extension://") ||
		strings.HasPrefix(origin, "moz-extension://")
}

// IsLocalhostOrigin reports whether origin points at the local machine.
func IsLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return IsLoopbackHost(u.Hostname())
}

// OriginChecker returns a websocket CheckOrigin func. Requests without an
// Origin header (non-browser clients), extension pages, localhost and the
// extra origins are accepted.
func OriginChecker(extra []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(extra))
	for _, o := range extra {
		if o = strings.TrimSpace(o); o != "" {
			allowed[strings.TrimRight(o, "/")] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || IsExtensionOrigin(origin) || IsLocalhostOrigin(origin) {
			return true
		}
		return allowed[strings.TrimRight(origin, "/")]
	}
}

// LoopbackOnly rejects requests whose remote address is not loopback.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteIP := r.RemoteAddr
		if host, _, err := net.SplitHostPort(remoteIP); err == nil {
			remoteIP = host
		}
		if !IsLoopbackIP(remoteIP) {
			httputil.ErrorWithCode(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")
	if h == "localhost" || h == "0.0.0.0" || h == "::" {
		return true
	}
	return IsLoopbackIP(h)
}

// IsLoopbackIP reports whether ip is a loopback address.
func IsLoopbackIP(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
