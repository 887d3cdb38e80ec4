package middleware

import (
	"errors"
	"net/http"

	"github.com/omnidotdev/synapse/internal/apierror"
	"github.com/omnidotdev/synapse/internal/ratelimit"
)

// RateLimit applies the global limit, then the per-IP limit keyed by
// the canonical client IP. Runs after the client-IP middleware.
func RateLimit(limiter *ratelimit.RequestLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := limiter.CheckGlobal(r.Context()); err != nil {
				writeLimitError(w, err)
				return
			}

			if ip := ClientIPFrom(r.Context()); ip != "" {
				if err := limiter.CheckIP(r.Context(), ip); err != nil {
					writeLimitError(w, err)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeLimitError(w http.ResponseWriter, err error) {
	var exceeded *ratelimit.ErrExceeded
	if errors.As(err, &exceeded) {
		apierror.Write(w, apierror.RateLimited(exceeded.RetryAfter, "rate limit exceeded"))
		return
	}
	// Backend failures (e.g. Redis down) are internal, not a limit.
	apierror.Write(w, apierror.Internal(err))
}
