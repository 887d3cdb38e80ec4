// Package llm holds the provider-neutral canonical types every wire
// format converts to and from. Converters are pure functions over these
// types; nothing here knows about any external protocol.
package llm

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType tags a typed content part.
type PartType string

const (
	PartText       PartType = "text"
	PartImageURL   PartType = "image_url"
	PartImageBytes PartType = "image_bytes"
)

// ContentPart is one element of a multimodal content sequence.
type ContentPart struct {
	Type PartType
	// Text is set for PartText.
	Text string
	// URL is set for PartImageURL.
	URL string
	// Data holds base64 image bytes for PartImageBytes.
	Data string
	// MimeType qualifies Data (e.g. "image/png").
	MimeType string
}

// Content is either a plain string or an ordered sequence of parts.
// Parts takes precedence when non-nil.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps a plain string.
func TextContent(s string) Content {
	return Content{Text: s}
}

// IsParts reports whether the content is a typed part sequence.
func (c Content) IsParts() bool { return c.Parts != nil }

// IsEmpty reports whether there is no content at all.
func (c Content) IsEmpty() bool { return c.Text == "" && c.Parts == nil }

// Flatten concatenates all text, dropping non-text parts.
func (c Content) Flatten() string {
	if c.Parts == nil {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCall is an outgoing function invocation on an assistant message.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON document
}

// Message is one turn of a conversation.
//
// Invariant: RoleTool requires ToolCallID. RoleAssistant may carry both
// Content and ToolCalls; converters flatten per destination format.
type Message struct {
	Role       Role
	Content    Content
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// SystemMessage builds a plain system message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: TextContent(text)}
}

// UserMessage builds a plain user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

// AssistantMessage builds a plain assistant message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: TextContent(text)}
}

// ToolMessage builds a tool-result message for the given call id.
func ToolMessage(toolCallID, text string) Message {
	return Message{Role: RoleTool, Content: TextContent(text), ToolCallID: toolCallID}
}
