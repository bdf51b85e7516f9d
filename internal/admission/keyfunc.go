package admission

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives the rate-limit bucket key for a request.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc prefers an authenticated user id header, then the first
// X-Forwarded-For hop when the proxy is trusted, then the remote address.
// The key exists only for the request's lifetime; nothing about the caller
// is retained beyond its buckets.
func DefaultKeyFunc(userHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if userHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(userHeader)); v != "" {
				return v
			}
		}
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
					return ip
				}
			}
		}
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}
