package middleware

import (
	"net/http"

	"github.com/omnidotdev/synapse/internal/config"
)

// CSRF requires the configured header on any method that can mutate.
// The header's value is ignored; its presence proves the request came
// from script, not a plain form submit.
func CSRF(cfg *config.CSRFConfig) func(http.Handler) http.Handler {
	headerName := cfg.Header()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			if _, present := r.Header[http.CanonicalHeaderKey(headerName)]; !present {
				http.Error(w, "missing CSRF header: "+headerName, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
