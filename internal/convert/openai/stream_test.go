package openai

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidotdev/synapse/internal/llm"
)

func TestStreamParser_ContentDeltas(t *testing.T) {
	parser := &StreamParser{}
	ctx := context.Background()

	chunk := `{"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`
	events, err := parser.Parse(ctx, []byte(chunk))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Hel", events[0].Delta.Content)

	chunk = `{"id":"c1","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`
	events, err = parser.Parse(ctx, []byte(chunk))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "lo", events[0].Delta.Content)

	chunk = `{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`
	events, err = parser.Parse(ctx, []byte(chunk))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, llm.FinishStop, events[0].Delta.FinishReason)
}

func TestStreamParser_ToolCallDeltas(t *testing.T) {
	parser := &StreamParser{}
	ctx := context.Background()

	first := `{"choices":[{"index":0,"delta":{"tool_calls":[
		{"index":0,"id":"call_1","type":"function","function":{"name":"f","arguments":""}}]}}]}`
	events, err := parser.Parse(ctx, []byte(first))
	require.NoError(t, err)
	require.Len(t, events, 1)
	tc := events[0].Delta.ToolCall
	require.NotNil(t, tc)
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "f", tc.Name)

	frag := `{"choices":[{"index":0,"delta":{"tool_calls":[
		{"index":0,"function":{"arguments":"{\"a\":"}}]}}]}`
	events, err = parser.Parse(ctx, []byte(frag))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, `{"a":`, events[0].Delta.ToolCall.Arguments)
}

func TestStreamParser_UsageChunk(t *testing.T) {
	parser := &StreamParser{}
	events, err := parser.Parse(context.Background(),
		[]byte(`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Usage)
	assert.Equal(t, 12, events[0].Usage.TotalTokens)
}

func TestEncoder_TerminalDone(t *testing.T) {
	enc := &Encoder{ID: "chatcmpl-x", Created: 1, Model: "m"}
	out, err := enc.Encode(llm.DoneEvent())
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]\n\n", string(out))
}

func TestEncoder_DeltaFrames(t *testing.T) {
	enc := &Encoder{ID: "chatcmpl-x", Created: 1, Model: "m"}

	out, err := enc.Encode(llm.DeltaEvent(llm.StreamDelta{Index: 0, Content: "Hi"}))
	require.NoError(t, err)

	payload := strings.TrimSuffix(strings.TrimPrefix(string(out), "data: "), "\n\n")
	var chunk map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
	assert.Equal(t, "chat.completion.chunk", chunk["object"])

	choices := chunk["choices"].([]any)
	delta := choices[0].(map[string]any)["delta"].(map[string]any)
	assert.Equal(t, "assistant", delta["role"])
	assert.Equal(t, "Hi", delta["content"])

	// Role is announced only on the first frame of a choice.
	out, err = enc.Encode(llm.DeltaEvent(llm.StreamDelta{Index: 0, Content: "!"}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(string(out), "data: "), "\n\n")), &chunk))
	delta = chunk["choices"].([]any)[0].(map[string]any)["delta"].(map[string]any)
	_, hasRole := delta["role"]
	assert.False(t, hasRole)
}

// Concatenated content fragments across parse→encode must reproduce
// the full text, and the stream must end with exactly one terminal.
func TestStream_ConcatenationInvariant(t *testing.T) {
	parser := &StreamParser{}
	enc := &Encoder{ID: "x", Created: 1, Model: "m"}
	ctx := context.Background()

	upstream := []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hello "}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"from "}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"mock"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}

	var rebuilt strings.Builder
	var frames []string
	for _, chunk := range upstream {
		events, err := parser.Parse(ctx, []byte(chunk))
		require.NoError(t, err)
		for _, ev := range events {
			if ev.Delta != nil {
				rebuilt.WriteString(ev.Delta.Content)
			}
			frame, err := enc.Encode(ev)
			require.NoError(t, err)
			frames = append(frames, string(frame))
		}
	}
	done, err := enc.Encode(llm.DoneEvent())
	require.NoError(t, err)
	frames = append(frames, string(done))

	assert.Equal(t, "Hello from mock", rebuilt.String())
	assert.Equal(t, 1, strings.Count(strings.Join(frames, ""), "data: [DONE]"))
}
