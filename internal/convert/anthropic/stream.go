package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/omnidotdev/synapse/internal/llm"
)

// StreamParser converts upstream Anthropic SSE payloads to canonical
// events. One parser instance serves one stream; it tracks which
// content block indices hold tool calls so argument fragments land on
// the right canonical tool-call index.
type StreamParser struct {
	toolIndex   map[int]int // content block index -> canonical tool index
	nextTool    int
	inputTokens int
	usage       *llm.Usage
}

// Parse converts the JSON payload of a single data: line.
func (p *StreamParser) Parse(ctx context.Context, data []byte) ([]llm.StreamEvent, error) {
	var ev wireStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal stream event: %w", err)
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil && ev.Message.Usage != nil {
			p.inputTokens = ev.Message.Usage.InputTokens
		}
		return nil, nil

	case "content_block_start":
		if ev.ContentBlock == nil || ev.ContentBlock.Type != "tool_use" {
			return nil, nil
		}
		if p.toolIndex == nil {
			p.toolIndex = make(map[int]int)
		}
		idx := p.nextTool
		p.toolIndex[ev.Index] = idx
		p.nextTool++
		return []llm.StreamEvent{llm.DeltaEvent(llm.StreamDelta{
			ToolCall: &llm.StreamToolCall{
				Index: idx,
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			},
		})}, nil

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text == "" {
				return nil, nil
			}
			return []llm.StreamEvent{llm.DeltaEvent(llm.StreamDelta{Content: ev.Delta.Text})}, nil
		case "input_json_delta":
			idx, ok := p.toolIndex[ev.Index]
			if !ok {
				return nil, fmt.Errorf("input_json_delta for unknown content block %d", ev.Index)
			}
			return []llm.StreamEvent{llm.DeltaEvent(llm.StreamDelta{
				ToolCall: &llm.StreamToolCall{Index: idx, Arguments: ev.Delta.PartialJSON},
			})}, nil
		default:
			return nil, nil
		}

	case "message_delta":
		var events []llm.StreamEvent
		if ev.Delta != nil && ev.Delta.StopReason != nil {
			events = append(events, llm.DeltaEvent(llm.StreamDelta{
				FinishReason: MapStopReason(ctx, *ev.Delta.StopReason),
			}))
		}
		if ev.Usage != nil {
			p.usage = &llm.Usage{
				PromptTokens:     p.inputTokens,
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      p.inputTokens + ev.Usage.OutputTokens,
			}
		}
		return events, nil

	case "message_stop":
		var events []llm.StreamEvent
		if p.usage != nil {
			events = append(events, llm.UsageEvent(*p.usage))
		}
		events = append(events, llm.DoneEvent())
		return events, nil

	default:
		// ping, content_block_stop, and unknown event types carry no
		// canonical information.
		return nil, nil
	}
}

// Encoder renders canonical stream events as Anthropic SSE frames.
// One encoder instance serves one stream. Block bookkeeping follows
// the protocol: a text block and each tool call get their own content
// block index, opened on first fragment and closed before the final
// message_delta.
type Encoder struct {
	ID    string
	Model string

	started    bool
	nextBlock  int
	textBlock  int
	textOpen   bool
	toolBlocks map[int]int // canonical tool index -> content block index
	open       []int       // open block indices, in open order

	stopReason llm.FinishReason
	usage      *llm.Usage
}

// ContentType is the SSE content type for this protocol.
func (e *Encoder) ContentType() string {
	return "text/event-stream; charset=utf-8"
}

// Encode renders one event. Done closes open blocks and emits
// message_delta followed by exactly one message_stop.
func (e *Encoder) Encode(ev llm.StreamEvent) ([]byte, error) {
	switch {
	case ev.Done:
		return e.finish()
	case ev.Usage != nil:
		e.usage = ev.Usage
		return nil, nil
	case ev.Delta != nil:
		return e.encodeDelta(*ev.Delta)
	default:
		return nil, fmt.Errorf("empty stream event")
	}
}

func (e *Encoder) encodeDelta(d llm.StreamDelta) ([]byte, error) {
	var out []byte

	if !e.started {
		e.started = true
		out = append(out, frame("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            e.ID,
				"type":          "message",
				"role":          "assistant",
				"model":         e.Model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		})...)
	}

	if d.FinishReason != "" {
		e.stopReason = d.FinishReason
	}

	if d.Content != "" {
		if !e.textOpen {
			e.textOpen = true
			e.textBlock = e.nextBlock
			e.nextBlock++
			e.open = append(e.open, e.textBlock)
			out = append(out, frame("content_block_start", map[string]any{
				"type":          "content_block_start",
				"index":         e.textBlock,
				"content_block": map[string]any{"type": "text", "text": ""},
			})...)
		}
		out = append(out, frame("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": e.textBlock,
			"delta": map[string]any{"type": "text_delta", "text": d.Content},
		})...)
	}

	if d.ToolCall != nil {
		if e.toolBlocks == nil {
			e.toolBlocks = make(map[int]int)
		}
		block, ok := e.toolBlocks[d.ToolCall.Index]
		if !ok {
			block = e.nextBlock
			e.nextBlock++
			e.toolBlocks[d.ToolCall.Index] = block
			e.open = append(e.open, block)
			out = append(out, frame("content_block_start", map[string]any{
				"type":  "content_block_start",
				"index": block,
				"content_block": map[string]any{
					"type":  "tool_use",
					"id":    d.ToolCall.ID,
					"name":  d.ToolCall.Name,
					"input": map[string]any{},
				},
			})...)
		}
		if d.ToolCall.Arguments != "" {
			out = append(out, frame("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": block,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": d.ToolCall.Arguments},
			})...)
		}
	}

	return out, nil
}

func (e *Encoder) finish() ([]byte, error) {
	var out []byte

	for _, block := range e.open {
		out = append(out, frame("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": block,
		})...)
	}
	e.open = nil

	delta := map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   buildStopReason(e.stopReason),
			"stop_sequence": nil,
		},
	}
	if e.usage != nil {
		delta["usage"] = map[string]any{
			"input_tokens":  e.usage.PromptTokens,
			"output_tokens": e.usage.CompletionTokens,
		}
	}
	out = append(out, frame("message_delta", delta)...)
	out = append(out, frame("message_stop", map[string]any{"type": "message_stop"})...)

	return out, nil
}

func frame(event string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return []byte("event: error\ndata: {\"type\":\"error\"}\n\n")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}
