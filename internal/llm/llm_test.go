package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContent_Flatten(t *testing.T) {
	assert.Equal(t, "plain", TextContent("plain").Flatten())

	parts := Content{Parts: []ContentPart{
		{Type: PartText, Text: "a"},
		{Type: PartImageURL, URL: "https://example.com/x.png"},
		{Type: PartText, Text: "b"},
	}}
	assert.Equal(t, "ab", parts.Flatten())
	assert.True(t, parts.IsParts())
	assert.False(t, TextContent("x").IsParts())
}

func TestContent_IsEmpty(t *testing.T) {
	assert.True(t, Content{}.IsEmpty())
	assert.False(t, TextContent("x").IsEmpty())
	assert.False(t, (Content{Parts: []ContentPart{}}).IsEmpty())
}

func TestStreamEvent_Constructors(t *testing.T) {
	delta := DeltaEvent(StreamDelta{Content: "x"})
	assert.NotNil(t, delta.Delta)
	assert.Nil(t, delta.Usage)
	assert.False(t, delta.Done)

	usage := UsageEvent(Usage{TotalTokens: 3})
	assert.NotNil(t, usage.Usage)

	done := DoneEvent()
	assert.True(t, done.Done)
}

func TestResponse_Text(t *testing.T) {
	resp := &CompletionResponse{}
	assert.Equal(t, "", resp.Text())

	resp.Choices = []Choice{{Message: AssistantMessage("hello")}}
	assert.Equal(t, "hello", resp.Text())
}
