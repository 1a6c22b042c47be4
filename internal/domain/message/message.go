// Package message defines the canonical Messages-API shapes used as the
// gateway's internal lingua franca. Every provider family translates to and
// from these types; nothing outside the translators should ever see a
// provider wire format.
package message

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockType discriminates the closed set of content block variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a message's content array. It is a tagged
// variant: Type selects which of the remaining fields are meaningful.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Type == BlockText
	Text string `json:"text,omitempty"`

	// Type == BlockToolUse
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// Type == BlockToolResult
	ToolUseID string      `json:"tool_use_id,omitempty"`
	Content   interface{} `json:"content,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]interface{}) ContentBlock {
	if input == nil {
		input = map[string]interface{}{}
	}
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block answering toolUseID.
func ToolResultBlock(toolUseID string, content interface{}) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content}
}

// ResultText flattens a tool_result payload to plain text. Structured
// payloads (arrays of text blocks, arbitrary JSON) are rendered as their
// text content or JSON serialization.
func (b ContentBlock) ResultText() string {
	switch v := b.Content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		var parts []string
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				if t, ok := m["text"].(string); ok {
					parts = append(parts, t)
					continue
				}
			}
			raw, _ := json.Marshal(item)
			parts = append(parts, string(raw))
		}
		return strings.Join(parts, "\n")
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}

// Content is a message body that accepts either a bare string or an array
// of content blocks on the wire, mirroring the Messages API.
type Content struct {
	blocks   []ContentBlock
	isString bool
	text     string
}

// TextContent wraps a plain string body.
func TextContent(text string) Content {
	return Content{isString: true, text: text}
}

// BlocksContent wraps an ordered block sequence.
func BlocksContent(blocks ...ContentBlock) Content {
	return Content{blocks: blocks}
}

// Blocks returns the content normalized to a block sequence. A string body
// becomes a single text block.
func (c Content) Blocks() []ContentBlock {
	if c.isString {
		return []ContentBlock{TextBlock(c.text)}
	}
	return c.blocks
}

// Text concatenates all text blocks with newline separators.
func (c Content) Text() string {
	if c.isString {
		return c.text
	}
	var parts []string
	for _, b := range c.blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// IsString reports whether the body arrived as a bare string.
func (c Content) IsString() bool { return c.isString }

// UnmarshalJSON accepts `"text"` or `[{block}, …]`.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{isString: true, text: s}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}
	*c = Content{blocks: blocks}
	return nil
}

// MarshalJSON emits the shape the content arrived in.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.isString {
		return json.Marshal(c.text)
	}
	if c.blocks == nil {
		return json.Marshal([]ContentBlock{})
	}
	return json.Marshal(c.blocks)
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Tool declares a callable tool in canonical (JSON-schema) form.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// Request is the canonical inbound request body.
type Request struct {
	Model       string                 `json:"model"`
	System      string                 `json:"system,omitempty"`
	Messages    []Message              `json:"messages"`
	Tools       []Tool                 `json:"tools,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	TopP        *float64               `json:"top_p,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StopReason is the closed set of canonical completion reasons.
type StopReason string

const (
	StopEndTurn       StopReason = "end_turn"
	StopToolUse       StopReason = "tool_use"
	StopMaxTokens     StopReason = "max_tokens"
	StopContentFilter StopReason = "content_filter"
)

// Usage reports token accounting for one response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the canonical outbound response body. Model always echoes the
// caller-requested model, never the upstream's own identifier.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       Role           `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// NewResponseID generates a message id in the canonical scheme.
func NewResponseID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewToolUseID generates a tool_use id for upstreams that omit one.
func NewToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// NewResponse assembles a response with a fresh id.
func NewResponse(model string, content []ContentBlock, stop StopReason, usage Usage) *Response {
	if len(content) == 0 {
		// The content array is never empty; a null upstream body becomes
		// a single empty text block.
		content = []ContentBlock{TextBlock("")}
	}
	return &Response{
		ID:         NewResponseID(),
		Type:       "message",
		Role:       RoleAssistant,
		Content:    content,
		Model:      model,
		StopReason: stop,
		Usage:      usage,
	}
}

// Normalize drops orphan tool_result blocks: a tool_result whose tool_use_id
// has no matching tool_use in a preceding assistant message is removed.
// Messages left with zero blocks after filtering are dropped entirely.
func Normalize(msgs []Message) []Message {
	seen := make(map[string]bool)
	out := make([]Message, 0, len(msgs))

	for _, msg := range msgs {
		if msg.Content.IsString() {
			out = append(out, msg)
			continue
		}

		var kept []ContentBlock
		for _, b := range msg.Content.Blocks() {
			switch b.Type {
			case BlockToolUse:
				if msg.Role == RoleAssistant && b.ID != "" {
					seen[b.ID] = true
				}
				kept = append(kept, b)
			case BlockToolResult:
				if !seen[b.ToolUseID] {
					continue // orphan
				}
				kept = append(kept, b)
			default:
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, Message{Role: msg.Role, Content: BlocksContent(kept...)})
	}
	return out
}

// LastUserText returns the text content of the most recent user message,
// or "" if there is none.
func LastUserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content.Text()
		}
	}
	return ""
}
