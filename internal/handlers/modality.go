package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/omnidotdev/synapse/internal/apierror"
	"github.com/omnidotdev/synapse/internal/config"
)

// ModalityHandler is the thin passthrough for embeddings, STT, TTS,
// and image generation: one configured upstream per modality, request
// body forwarded as-is, response body returned as-is.
type ModalityHandler struct {
	name   string
	path   string
	cfg    config.ModalityConfig
	httpc  *http.Client
	logger zerolog.Logger
}

// NewModalityHandler builds a passthrough. name appears in error
// messages; path is appended to the provider's base URL.
func NewModalityHandler(name, path string, cfg config.ModalityConfig, httpc *http.Client, logger zerolog.Logger) *ModalityHandler {
	return &ModalityHandler{name: name, path: path, cfg: cfg, httpc: httpc, logger: logger}
}

func (h *ModalityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, providerCfg, ok := h.cfg.First()
	if !ok {
		apierror.Write(w, apierror.InvalidRequest("no %s provider configured", h.name))
		return
	}

	url := strings.TrimSuffix(providerCfg.BaseURL, "/") + h.path

	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, r.Body)
	if err != nil {
		apierror.Write(w, apierror.Internal(err))
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		upstream.Header.Set("Content-Type", ct)
	}
	upstream.Header.Set("Authorization", "Bearer "+providerCfg.APIKey.Expose())

	resp, err := h.httpc.Do(upstream)
	if err != nil {
		h.logger.Warn().Err(err).Str("modality", h.name).Msg("upstream request failed")
		apierror.Write(w, apierror.Provider("%s upstream unavailable", h.name))
		return
	}
	defer resp.Body.Close()

	for _, header := range []string{"Content-Type", "Content-Disposition"} {
		if v := resp.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
