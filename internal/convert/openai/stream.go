package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/omnidotdev/synapse/internal/llm"
)

// StreamParser converts upstream OpenAI SSE payloads to canonical
// events. One parser instance serves one stream.
type StreamParser struct{}

// Parse converts the JSON payload of a single data: line. The [DONE]
// sentinel is handled by the engine, not here.
func (p *StreamParser) Parse(ctx context.Context, data []byte) ([]llm.StreamEvent, error) {
	var chunk wireChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal stream chunk: %w", err)
	}

	var events []llm.StreamEvent

	for _, c := range chunk.Choices {
		delta := llm.StreamDelta{Index: c.Index}
		if c.Delta.Content != nil {
			delta.Content = *c.Delta.Content
		}
		for _, tc := range c.Delta.ToolCalls {
			d := delta
			d.Content = ""
			d.ToolCall = &llm.StreamToolCall{Index: tc.Index, ID: tc.ID}
			if tc.Function != nil {
				d.ToolCall.Name = tc.Function.Name
				d.ToolCall.Arguments = tc.Function.Arguments
			}
			events = append(events, llm.DeltaEvent(d))
		}
		if c.Delta.Content != nil || c.FinishReason != nil {
			if c.FinishReason != nil {
				delta.FinishReason = MapFinishReason(ctx, *c.FinishReason)
			}
			if delta.Content != "" || delta.FinishReason != "" {
				events = append(events, llm.DeltaEvent(delta))
			}
		}
	}

	if chunk.Usage != nil {
		events = append(events, llm.UsageEvent(llm.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}))
	}

	return events, nil
}

// Encoder renders canonical stream events as OpenAI SSE frames.
// One encoder instance serves one stream.
type Encoder struct {
	ID      string
	Created int64
	Model   string

	roleSent map[int]bool
}

// ContentType is the SSE content type for this protocol.
func (e *Encoder) ContentType() string {
	return "text/event-stream; charset=utf-8"
}

// Encode renders one event. Done produces the [DONE] sentinel; every
// stream must end with exactly one.
func (e *Encoder) Encode(ev llm.StreamEvent) ([]byte, error) {
	switch {
	case ev.Done:
		return []byte("data: [DONE]\n\n"), nil
	case ev.Usage != nil:
		chunk := wireChunk{
			ID:      e.ID,
			Object:  "chat.completion.chunk",
			Created: e.Created,
			Model:   e.Model,
			Choices: []wireChunkChoice{},
			Usage: &wireUsage{
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
				TotalTokens:      ev.Usage.TotalTokens,
			},
		}
		return sseFrame(chunk)
	case ev.Delta != nil:
		return e.encodeDelta(*ev.Delta)
	default:
		return nil, fmt.Errorf("empty stream event")
	}
}

func (e *Encoder) encodeDelta(d llm.StreamDelta) ([]byte, error) {
	if e.roleSent == nil {
		e.roleSent = make(map[int]bool)
	}

	choice := wireChunkChoice{Index: d.Index}
	if !e.roleSent[d.Index] {
		choice.Delta.Role = "assistant"
		e.roleSent[d.Index] = true
	}

	if d.Content != "" {
		content := d.Content
		choice.Delta.Content = &content
	}

	if d.ToolCall != nil {
		tc := wireDeltaToolCall{Index: d.ToolCall.Index, ID: d.ToolCall.ID}
		if d.ToolCall.ID != "" {
			tc.Type = "function"
		}
		if d.ToolCall.Name != "" || d.ToolCall.Arguments != "" {
			tc.Function = &wireFunctionCall{
				Name:      d.ToolCall.Name,
				Arguments: d.ToolCall.Arguments,
			}
		}
		choice.Delta.ToolCalls = []wireDeltaToolCall{tc}
	}

	if d.FinishReason != "" {
		fr := string(d.FinishReason)
		choice.FinishReason = &fr
	}

	chunk := wireChunk{
		ID:      e.ID,
		Object:  "chat.completion.chunk",
		Created: e.Created,
		Model:   e.Model,
		Choices: []wireChunkChoice{choice},
	}
	return sseFrame(chunk)
}

func sseFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal stream frame: %w", err)
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data)), nil
}
