package openai

import (
	"encoding/json"
	"strings"

	"github.com/relaygate/relaygate/internal/domain/message"
	llm "github.com/relaygate/relaygate/internal/infrastructure/llm"
)

// ResponsesInput is the alternate "Responses" request shape: an `input`
// field replaces `messages`. Everything else carries over.
type ResponsesInput struct {
	Model       string          `json:"model"`
	Input       json.RawMessage `json:"input"`
	System      string          `json:"instructions,omitempty"`
	MaxTokens   int             `json:"max_output_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

var validShimRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// FromResponsesInput maps the Responses input shape onto a canonical
// request. A string input becomes a single user message. An array input is
// filtered: each entry needs a valid role plus one of content, tool_calls,
// or tool_call_id; content parts of {type: text|input_text} are flattened
// by joining with blank lines. Entries with nothing salvageable are
// dropped; zero surviving messages is an error.
func FromResponsesInput(in *ResponsesInput) (*message.Request, error) {
	req := &message.Request{
		Model:       in.Model,
		System:      in.System,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stream:      in.Stream,
	}

	// String input: one user message.
	var s string
	if err := json.Unmarshal(in.Input, &s); err == nil {
		req.Messages = []message.Message{
			{Role: message.RoleUser, Content: message.TextContent(s)},
		}
		return req, nil
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(in.Input, &entries); err != nil {
		return nil, llm.NewError(llm.ErrKindInvalidRequest, "", "input must be a string or an array of messages")
	}

	for _, entry := range entries {
		var role string
		if raw, ok := entry["role"]; ok {
			_ = json.Unmarshal(raw, &role)
		}
		if !validShimRoles[role] {
			continue
		}

		content, hasContent := flattenShimContent(entry["content"])
		_, hasToolCalls := entry["tool_calls"]
		_, hasToolCallID := entry["tool_call_id"]
		if !hasContent && !hasToolCalls && !hasToolCallID {
			continue
		}

		// System entries fold into the request-level system prompt.
		if role == "system" {
			if req.System == "" {
				req.System = content
			} else {
				req.System += "\n" + content
			}
			continue
		}
		// Tool entries surface as user text; the gateway's canonical form
		// has no bare tool role.
		if role == "tool" {
			role = "user"
		}
		req.Messages = append(req.Messages, message.Message{
			Role:    message.Role(role),
			Content: message.TextContent(content),
		})
	}

	if len(req.Messages) == 0 {
		return nil, llm.NewError(llm.ErrKindInvalidRequest, "", "input contained no usable messages")
	}
	return req, nil
}

// flattenShimContent turns a content value (string or array of typed text
// parts) into a single string. Returns ok=false when nothing usable exists.
func flattenShimContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	var parts []map[string]interface{}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", false
	}

	var texts []string
	for _, part := range parts {
		t, _ := part["type"].(string)
		if t != "text" && t != "input_text" && t != "" {
			continue
		}
		if text, ok := part["text"].(string); ok && text != "" {
			texts = append(texts, text)
			continue
		}
		if text, ok := part["input_text"].(string); ok && text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return "", false
	}
	return strings.Join(texts, "\n\n"), true
}
