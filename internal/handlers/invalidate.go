package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/omnidotdev/synapse/internal/auth"
)

// InvalidateKeyHandler serves POST /internal/invalidate-key, gated on
// the shared gateway secret. Unauthorized requests get a bare 401.
type InvalidateKeyHandler struct {
	resolver *auth.APIKeyResolver
}

// NewInvalidateKeyHandler wraps the resolver.
func NewInvalidateKeyHandler(resolver *auth.APIKeyResolver) *InvalidateKeyHandler {
	return &InvalidateKeyHandler{resolver: resolver}
}

func (h *InvalidateKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get("X-Gateway-Secret")
	want := h.resolver.GatewaySecret().Expose()
	if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var payload struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.resolver.Invalidate(payload.Key)
	w.WriteHeader(http.StatusNoContent)
}
