package openai

import (
	"encoding/json"
	"strings"

	"github.com/relaygate/relaygate/internal/domain/message"
	llm "github.com/relaygate/relaygate/internal/infrastructure/llm"
)

// ToChatMessages translates canonical messages to the chat-completions
// shape. The emitted sequence preserves original ordering:
//
//   - text blocks concatenate with newline separators into string content
//   - assistant tool_use blocks become one assistant message carrying a
//     tool_calls array
//   - user tool_result blocks become standalone "tool" role messages
//   - tool_result blocks with no matching tool_use earlier in the emitted
//     sequence are dropped
func ToChatMessages(system string, msgs []message.Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, Message{Role: "system", Content: strPtr(system)})
	}

	emittedCalls := make(map[string]bool)

	for _, msg := range msgs {
		role := string(msg.Role)

		var textParts []string
		var toolCalls []ToolCall
		var toolResults []message.ContentBlock

		for _, b := range msg.Content.Blocks() {
			switch b.Type {
			case message.BlockText:
				if b.Text != "" {
					textParts = append(textParts, b.Text)
				}
			case message.BlockToolUse:
				toolCalls = append(toolCalls, ToolCall{
					ID:   b.ID,
					Type: "function",
					Function: ToolCallFunc{
						Name:      b.Name,
						Arguments: marshalArgs(b.Input),
					},
				})
			case message.BlockToolResult:
				toolResults = append(toolResults, b)
			}
		}

		// Tool results first: they answer the preceding assistant turn.
		for _, tr := range toolResults {
			if !emittedCalls[tr.ToolUseID] {
				continue // orphan
			}
			out = append(out, Message{
				Role:       "tool",
				ToolCallID: tr.ToolUseID,
				Content:    strPtr(tr.ResultText()),
			})
		}

		text := strings.Join(textParts, "\n")
		if len(toolCalls) > 0 {
			for _, tc := range toolCalls {
				emittedCalls[tc.ID] = true
			}
			out = append(out, Message{
				Role:      role,
				Content:   strPtr(text),
				ToolCalls: toolCalls,
			})
			continue
		}
		if text != "" || len(toolResults) == 0 {
			out = append(out, Message{Role: role, Content: strPtr(text)})
		}
	}
	return out
}

// CompactSameRole merges consecutive same-role messages by concatenating
// their content with a newline. Local upstreams (Ollama, llama.cpp-server)
// reject consecutive same-role turns; merging preserves the text that a
// dropping strategy would lose. Returns the number of merges performed so
// the caller can log the normalization.
func CompactSameRole(msgs []Message) ([]Message, int) {
	if len(msgs) < 2 {
		return msgs, 0
	}
	out := make([]Message, 0, len(msgs))
	merged := 0
	for _, m := range msgs {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			// Tool messages answer distinct calls; never merge them.
			if prev.Role == m.Role && m.Role != "tool" {
				prevText := ""
				if prev.Content != nil {
					prevText = *prev.Content
				}
				text := ""
				if m.Content != nil {
					text = *m.Content
				}
				joined := prevText
				if prevText != "" && text != "" {
					joined = prevText + "\n" + text
				} else if text != "" {
					joined = text
				}
				prev.Content = strPtr(joined)
				prev.ToolCalls = append(prev.ToolCalls, m.ToolCalls...)
				merged++
				continue
			}
		}
		out = append(out, m)
	}
	return out, merged
}

// ToChatTools converts canonical tool declarations to the function shape.
func ToChatTools(tools []message.Tool) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		out = append(out, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// ToChatRequest assembles the full wire request.
func ToChatRequest(req *message.Request, model string) *Request {
	return &Request{
		Model:       model,
		Messages:    ToChatMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Tools:       ToChatTools(req.Tools),
	}
}

// finishReasons maps upstream finish_reason values to canonical stop
// reasons. The mapping is total: unknown values become end_turn.
var finishReasons = map[string]message.StopReason{
	"stop":           message.StopEndTurn,
	"tool_calls":     message.StopToolUse,
	"length":         message.StopMaxTokens,
	"content_filter": message.StopContentFilter,
}

// MapFinishReason converts an upstream finish_reason.
func MapFinishReason(reason string) message.StopReason {
	if r, ok := finishReasons[reason]; ok {
		return r
	}
	return message.StopEndTurn
}

// FromChatResponse translates a chat-completions response to canonical
// form. requestedModel is echoed in the result regardless of what the
// upstream reports. provider labels classified errors.
func FromChatResponse(body []byte, requestedModel, provider string) (*message.Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.WrapError(llm.ErrKindNoChoices, provider, err)
	}
	return FromChatResponseParsed(&resp, requestedModel, provider)
}

// FromChatResponseParsed is FromChatResponse over an already-decoded body.
func FromChatResponseParsed(resp *Response, requestedModel, provider string) (*message.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, llm.NewError(llm.ErrKindNoChoices, provider, "upstream returned no choices")
	}

	choice := resp.Choices[0]
	var blocks []message.ContentBlock

	hasToolCalls := len(choice.Message.ToolCalls) > 0
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}

	switch {
	case content == "":
		// null or empty content; tool_use blocks may still follow
	case looksLikeToolCallJSON(content):
		if hasToolCalls {
			// Local-model JSON leakage: the model echoed its tool call
			// into the text channel. Suppress the text entirely.
		} else {
			// Malformed tool hallucination with no structured call to
			// back it up: emit an empty text block.
			blocks = append(blocks, message.TextBlock(""))
		}
	default:
		blocks = append(blocks, message.TextBlock(content))
	}

	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = message.NewToolUseID()
		}
		var input map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = nil // parse failure yields the empty object
			}
		}
		blocks = append(blocks, message.ToolUseBlock(id, tc.Function.Name, input))
	}

	stop := MapFinishReason(choice.FinishReason)
	if hasToolCalls && stop == message.StopEndTurn {
		stop = message.StopToolUse
	}

	var usage message.Usage
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens
	}

	return message.NewResponse(requestedModel, blocks, stop, usage), nil
}

// looksLikeToolCallJSON reports whether the whole content string parses to
// a JSON object resembling a tool call: {"function":…} or
// {"type":"function",…}. Small local models leak these into the text
// channel instead of (or in addition to) the tool_calls array.
func looksLikeToolCallJSON(content string) bool {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return false
	}
	if _, ok := obj["function"]; ok {
		return true
	}
	if t, ok := obj["type"].(string); ok && t == "function" {
		return true
	}
	return false
}
