package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/omnidotdev/synapse/internal/config"
)

// ClientIPFrom returns the canonical client IP stored by the client-IP
// middleware, falling back to empty.
func ClientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// ClientIP extracts the canonical client IP: the configured number of
// trusted hops back in X-Forwarded-For, then X-Real-IP, then the peer
// address.
func ClientIP(cfg *config.ClientIPConfig) func(http.Handler) http.Handler {
	trustedHops := 0
	if cfg != nil {
		trustedHops = cfg.TrustedHops
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r, trustedHops)
			ctx := context.WithValue(r.Context(), clientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractClientIP(r *http.Request, trustedHops int) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := range hops {
			hops[i] = strings.TrimSpace(hops[i])
		}
		// With N trusted proxies, the client is N entries from the
		// right; otherwise take the first hop.
		idx := len(hops) - 1 - trustedHops
		if idx < 0 {
			idx = 0
		}
		if trustedHops == 0 {
			idx = 0
		}
		if hops[idx] != "" {
			return hops[idx]
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
