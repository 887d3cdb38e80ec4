package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnidotdev/synapse/internal/apierror"
	"github.com/omnidotdev/synapse/internal/billing"
	anthropicconv "github.com/omnidotdev/synapse/internal/convert/anthropic"
	openaiconv "github.com/omnidotdev/synapse/internal/convert/openai"
	"github.com/omnidotdev/synapse/internal/llm"
	"github.com/omnidotdev/synapse/internal/provider"
	"github.com/omnidotdev/synapse/internal/router"
)

// streamEncoder renders canonical events in the caller's protocol.
type streamEncoder interface {
	ContentType() string
	Encode(ev llm.StreamEvent) ([]byte, error)
}

// serveStream pipes upstream events to the caller: upstream bytes →
// native parser → canonical events → caller encoding → response
// writer. Stages run on the request goroutine, so backpressure is
// end-to-end: a stalled caller suspends the upstream read, and a
// client disconnect cancels the context, dropping the upstream body.
func (h *LLMHandler) serveStream(ctx context.Context, w http.ResponseWriter, req *llm.CompletionRequest, candidates []*router.ResolvedModel, caller callerProtocol) {
	stream, servedBy, err := h.openStream(ctx, candidates, req)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	defer stream.Close()

	encoder := h.newEncoder(req.Model, caller)

	w.Header().Set("Content-Type", encoder.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	var content strings.Builder
	var usage *llm.Usage

	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			break
		}

		if ev.Delta != nil && ev.Delta.Index == 0 {
			content.WriteString(ev.Delta.Content)
		}
		if ev.Usage != nil {
			usage = ev.Usage
		}

		frame, err := encoder.Encode(ev)
		if err != nil {
			h.logger.Error().Err(err).Msg("stream encoding failed")
			break
		}
		if len(frame) == 0 {
			continue
		}
		if _, err := w.Write(frame); err != nil {
			// Caller went away; the deferred close cancels upstream.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		// Headers are long gone; the best we can do is a terminal
		// error event in the caller's protocol before closing.
		h.logger.Error().Err(err).Msg("stream failed mid-flight")
		_, _ = w.Write(errorFrame(caller))
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	if usage == nil {
		usage = billing.Estimate(req, content.String())
		h.record(ctx, servedBy, req.Model, usage, true)
	} else {
		h.record(ctx, servedBy, req.Model, usage, false)
	}
}

// openStream tries each candidate binding until one accepts the
// request. Failover only happens before the first byte; a stream that
// dies mid-flight is not restartable.
func (h *LLMHandler) openStream(ctx context.Context, candidates []*router.ResolvedModel, req *llm.CompletionRequest) (*provider.Stream, string, error) {
	var lastErr error
	for i, cand := range candidates {
		upstream := *req
		upstream.Model = cand.Model

		stream, err := cand.Client.Stream(ctx, &upstream, cand.Key)
		if err == nil {
			return stream, cand.Client.ID(), nil
		}
		lastErr = err

		if !retryable(err) || i == len(candidates)-1 {
			return nil, "", err
		}
		h.logger.Warn().Err(err).Str("provider", cand.Client.ID()).Msg("falling back to next provider")
	}
	if lastErr == nil {
		lastErr = apierror.ProviderUnavailable("no provider available")
	}
	return nil, "", lastErr
}

func (h *LLMHandler) newEncoder(model string, caller callerProtocol) streamEncoder {
	id := "chatcmpl-" + uuid.NewString()
	switch caller {
	case callerAnthropic:
		return &anthropicconv.Encoder{ID: "msg_" + uuid.NewString(), Model: model}
	default:
		return &openaiconv.Encoder{ID: id, Created: time.Now().Unix(), Model: model}
	}
}

// errorFrame is the terminal error event per protocol.
func errorFrame(caller callerProtocol) []byte {
	switch caller {
	case callerAnthropic:
		return []byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"api_error\",\"message\":\"stream interrupted\"}}\n\n")
	default:
		return []byte("data: {\"error\":{\"type\":\"provider_error\",\"message\":\"stream interrupted\"}}\n\n")
	}
}
