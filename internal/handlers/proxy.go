package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/omnidotdev/synapse/internal/apierror"
	"github.com/omnidotdev/synapse/internal/config"
	"github.com/omnidotdev/synapse/internal/secret"
)

// AnthropicProxy forwards /anthropic/v1/messages to the configured
// Anthropic binding without format conversion. Streaming bodies pass
// through untouched.
type AnthropicProxy struct {
	baseURL string
	apiKey  secret.Secret
	httpc   *http.Client
	logger  zerolog.Logger
}

// NewAnthropicProxy builds the raw passthrough from the anthropic
// provider's binding, or nil when none is configured.
func NewAnthropicProxy(llmCfg *config.LLMConfig, httpc *http.Client, logger zerolog.Logger) *AnthropicProxy {
	for _, id := range llmCfg.ProviderOrder() {
		p, ok := llmCfg.Provider(id)
		if !ok || p.Type != config.ProtocolAnthropic {
			continue
		}
		return &AnthropicProxy{
			baseURL: strings.TrimSuffix(p.BaseURL, "/"),
			apiKey:  p.APIKey,
			httpc:   httpc,
			logger:  logger,
		}
	}
	return nil
}

func (p *AnthropicProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.baseURL+"/v1/messages", r.Body)
	if err != nil {
		apierror.Write(w, apierror.Internal(err))
		return
	}
	upstream.Header.Set("Content-Type", "application/json")
	upstream.Header.Set("x-api-key", p.apiKey.Expose())
	upstream.Header.Set("anthropic-version", r.Header.Get("anthropic-version"))
	if upstream.Header.Get("anthropic-version") == "" {
		upstream.Header.Set("anthropic-version", "2023-06-01")
	}

	resp, err := p.httpc.Do(upstream)
	if err != nil {
		p.logger.Warn().Err(err).Msg("anthropic passthrough failed")
		apierror.Write(w, apierror.Provider("anthropic upstream unavailable"))
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if key == "Content-Length" {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	// Stream through with per-chunk flushes so SSE passes unbuffered.
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			p.logger.Warn().Err(readErr).Msg("anthropic passthrough read failed")
			return
		}
	}
}
