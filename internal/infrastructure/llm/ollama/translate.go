package ollama

import (
	"encoding/json"
	"strings"

	"github.com/relaygate/relaygate/internal/domain/message"
)

// ToNativeMessages translates canonical messages to Ollama's string-content
// shape. Tool results become "tool" role messages; consecutive same-role
// messages are merged afterwards by CompactSameRole since the native chat
// endpoint rejects them.
func ToNativeMessages(system string, msgs []message.Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, Message{Role: "system", Content: system})
	}

	emittedCalls := make(map[string]bool)

	for _, msg := range msgs {
		var text string
		var toolCalls []ToolCall
		var results []message.ContentBlock

		for _, b := range msg.Content.Blocks() {
			switch b.Type {
			case message.BlockText:
				if b.Text != "" {
					if text != "" {
						text += "\n"
					}
					text += b.Text
				}
			case message.BlockToolUse:
				emittedCalls[b.ID] = true
				toolCalls = append(toolCalls, ToolCall{Function: ToolCallFunc{
					Name:      b.Name,
					Arguments: b.Input,
				}})
			case message.BlockToolResult:
				results = append(results, b)
			}
		}

		for _, tr := range results {
			if !emittedCalls[tr.ToolUseID] {
				continue // orphan
			}
			out = append(out, Message{Role: "tool", Content: tr.ResultText()})
		}

		if len(toolCalls) > 0 {
			out = append(out, Message{Role: string(msg.Role), Content: text, ToolCalls: toolCalls})
			continue
		}
		if text != "" || len(results) == 0 {
			out = append(out, Message{Role: string(msg.Role), Content: text})
		}
	}
	return out
}

// CompactSameRole merges consecutive same-role messages by concatenating
// their content with a newline, returning the merge count for logging.
// Tool messages answer distinct calls and never merge.
func CompactSameRole(msgs []Message) ([]Message, int) {
	if len(msgs) < 2 {
		return msgs, 0
	}
	out := make([]Message, 0, len(msgs))
	merged := 0
	for _, m := range msgs {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.Role == m.Role && m.Role != "tool" {
				if prev.Content != "" && m.Content != "" {
					prev.Content += "\n" + m.Content
				} else if m.Content != "" {
					prev.Content = m.Content
				}
				prev.ToolCalls = append(prev.ToolCalls, m.ToolCalls...)
				merged++
				continue
			}
		}
		out = append(out, m)
	}
	return out, merged
}

// ToNativeTools converts canonical tool declarations to the Ollama schema.
func ToNativeTools(tools []message.Tool) []Tool {
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

// ToNativeRequest assembles the full wire request.
func ToNativeRequest(req *message.Request, model string) *Request {
	out := &Request{
		Model:    model,
		Messages: ToNativeMessages(req.System, req.Messages),
		Tools:    ToNativeTools(req.Tools),
		Stream:   false,
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens > 0 {
		out.Options = &Options{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
		}
	}
	return out
}

// FromNativeResponse translates an /api/chat response to canonical form.
// Tool-call-shaped JSON leaked into the text channel is suppressed when a
// structured tool_calls array backs it up, and emptied when nothing does.
func FromNativeResponse(resp *Response, requestedModel string) *message.Response {
	var blocks []message.ContentBlock
	content := resp.Message.Content
	hasToolCalls := len(resp.Message.ToolCalls) > 0
	switch {
	case content == "":
	case looksLikeToolCallJSON(content):
		if !hasToolCalls {
			blocks = append(blocks, message.TextBlock(""))
		}
	default:
		blocks = append(blocks, message.TextBlock(content))
	}
	for _, tc := range resp.Message.ToolCalls {
		blocks = append(blocks, message.ToolUseBlock(message.NewToolUseID(), tc.Function.Name, tc.Function.Arguments))
	}

	stop := message.StopEndTurn
	switch {
	case len(resp.Message.ToolCalls) > 0:
		stop = message.StopToolUse
	case resp.DoneReason == "length":
		stop = message.StopMaxTokens
	}

	usage := message.Usage{
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
	return message.NewResponse(requestedModel, blocks, stop, usage)
}

// looksLikeToolCallJSON reports whether the content parses whole to a JSON
// object shaped like a tool call, the way small models leak them.
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
	t, ok := obj["type"].(string)
	return ok && t == "function"
}
