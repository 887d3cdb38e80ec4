// Package billing meters per-request usage. Records go to the
// structured log sink; an external pipeline turns them into invoices.
package billing

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"github.com/omnidotdev/synapse/internal/llm"
)

// Recorder emits one usage record per completed request.
type Recorder struct {
	logger  zerolog.Logger
	enabled bool
}

// NewRecorder builds a recorder; enabled=false disables metering.
func NewRecorder(enabled bool, logger zerolog.Logger) *Recorder {
	return &Recorder{logger: logger, enabled: enabled}
}

// Record emits the usage record. Streaming responses record whatever
// usage the upstream reported; estimated usage is marked as such.
func (r *Recorder) Record(customer, clientID, provider, model string, usage *llm.Usage, estimated bool) {
	if !r.enabled || usage == nil {
		return
	}
	r.logger.Info().
		Str("event", "usage").
		Str("customer", customer).
		Str("client_id", clientID).
		Str("provider", provider).
		Str("model", model).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Bool("estimated", estimated).
		Msg("usage recorded")
}

// Estimate approximates token usage with the cl100k_base encoding for
// upstreams that report none. Good enough for metering, not billing-
// grade accounting.
func Estimate(req *llm.CompletionRequest, completion string) *llm.Usage {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}

	var prompt int
	for _, m := range req.Messages {
		prompt += len(enc.Encode(m.Content.Flatten(), nil, nil))
	}
	out := len(enc.Encode(completion, nil, nil))

	return &llm.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}
