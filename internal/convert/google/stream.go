package google

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/omnidotdev/synapse/internal/llm"
)

// StreamParser converts streamed generate-content payloads to
// canonical events. Chunks share the buffered response shape; the
// stream simply ends at EOF, so the engine synthesizes Done.
type StreamParser struct {
	nextTool int
	usage    *llm.Usage
}

// Parse converts the JSON payload of a single data: line.
func (p *StreamParser) Parse(ctx context.Context, data []byte) ([]llm.StreamEvent, error) {
	var chunk wireResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal stream chunk: %w", err)
	}

	var events []llm.StreamEvent

	for _, cand := range chunk.Candidates {
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				args := "{}"
				if len(part.FunctionCall.Args) > 0 {
					args = string(part.FunctionCall.Args)
				}
				// Calls arrive whole in this protocol; id, name, and
				// arguments go out in a single canonical fragment.
				events = append(events, llm.DeltaEvent(llm.StreamDelta{
					Index: cand.Index,
					ToolCall: &llm.StreamToolCall{
						Index:     p.nextTool,
						ID:        "call_" + part.FunctionCall.Name,
						Name:      part.FunctionCall.Name,
						Arguments: args,
					},
				}))
				p.nextTool++
			case part.Text != "":
				events = append(events, llm.DeltaEvent(llm.StreamDelta{
					Index:   cand.Index,
					Content: part.Text,
				}))
			}
		}
		if cand.FinishReason != "" {
			events = append(events, llm.DeltaEvent(llm.StreamDelta{
				Index:        cand.Index,
				FinishReason: MapFinishReason(ctx, cand.FinishReason),
			}))
		}
	}

	if chunk.UsageMetadata != nil {
		p.usage = &llm.Usage{
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
		}
	}

	return events, nil
}

// Finish returns the trailing events once upstream EOF is reached:
// usage if the stream reported it, then Done.
func (p *StreamParser) Finish() []llm.StreamEvent {
	var events []llm.StreamEvent
	if p.usage != nil {
		events = append(events, llm.UsageEvent(*p.usage))
	}
	events = append(events, llm.DoneEvent())
	return events
}

// Encoder renders canonical stream events as generate-content SSE
// frames. The terminal condition in this protocol is end-of-stream, so
// Done emits only a pending finish-reason frame when no usage frame has
// already carried one, and nothing otherwise.
type Encoder struct {
	Model string

	finish  llm.FinishReason
	flushed bool
}

// ContentType is the SSE content type for this protocol.
func (e *Encoder) ContentType() string {
	return "text/event-stream; charset=utf-8"
}

// Encode renders one event.
func (e *Encoder) Encode(ev llm.StreamEvent) ([]byte, error) {
	switch {
	case ev.Done:
		if !e.flushed && e.finish != "" {
			e.flushed = true
			return e.frame(wireCandidate{
				Content:      wireContent{Role: "model"},
				FinishReason: buildFinishReason(e.finish),
			}, nil)
		}
		return nil, nil

	case ev.Usage != nil:
		e.flushed = true
		return e.frame(wireCandidate{
			Content:      wireContent{Role: "model"},
			FinishReason: buildFinishReason(e.finish),
		}, &wireUsage{
			PromptTokenCount:     ev.Usage.PromptTokens,
			CandidatesTokenCount: ev.Usage.CompletionTokens,
			TotalTokenCount:      ev.Usage.TotalTokens,
		})

	case ev.Delta != nil:
		d := ev.Delta
		if d.FinishReason != "" {
			e.finish = d.FinishReason
		}
		content := wireContent{Role: "model"}
		if d.Content != "" {
			content.Parts = append(content.Parts, wirePart{Text: d.Content})
		}
		if d.ToolCall != nil && d.ToolCall.Name != "" {
			args := json.RawMessage(d.ToolCall.Arguments)
			if d.ToolCall.Arguments == "" {
				args = json.RawMessage("{}")
			}
			content.Parts = append(content.Parts, wirePart{
				FunctionCall: &wireFunctionCall{Name: d.ToolCall.Name, Args: args},
			})
		}
		if len(content.Parts) == 0 {
			return nil, nil
		}
		return e.frame(wireCandidate{Content: content, Index: d.Index}, nil)

	default:
		return nil, fmt.Errorf("empty stream event")
	}
}

func (e *Encoder) frame(cand wireCandidate, usage *wireUsage) ([]byte, error) {
	chunk := wireResponse{
		Candidates:    []wireCandidate{cand},
		UsageMetadata: usage,
		ModelVersion:  e.Model,
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("marshal stream frame: %w", err)
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data)), nil
}
