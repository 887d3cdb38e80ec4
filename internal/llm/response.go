package llm

// FinishReason is the canonical set; external reasons map onto it.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage carries token accounting for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Choice is one generated alternative.
type Choice struct {
	Index        int
	Message      Message
	FinishReason FinishReason
}

// CompletionResponse is the canonical form of a buffered completion.
type CompletionResponse struct {
	ID      string
	Created int64
	Model   string
	Choices []Choice
	Usage   *Usage
}

// Text returns the content of the first choice, the common case.
func (r *CompletionResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content.Flatten()
}
