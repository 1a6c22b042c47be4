package bedrock

import (
	"github.com/relaygate/relaygate/internal/domain/message"
	llm "github.com/relaygate/relaygate/internal/infrastructure/llm"
)

// ToConverseRequest translates a canonical request to the Converse shape.
// The system prompt moves to the top-level system array; content blocks map
// one-to-one onto Converse's shape-keyed parts.
func ToConverseRequest(req *message.Request) *Request {
	out := &Request{}

	if req.System != "" {
		out.System = []SystemBlock{{Text: req.System}}
	}

	out.Messages = make([]Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		converted := Message{Role: string(msg.Role)}
		for _, b := range msg.Content.Blocks() {
			switch b.Type {
			case message.BlockText:
				converted.Content = append(converted.Content, ContentBlock{Text: b.Text})
			case message.BlockToolUse:
				converted.Content = append(converted.Content, ContentBlock{ToolUse: &ToolUse{
					ToolUseID: b.ID,
					Name:      b.Name,
					Input:     b.Input,
				}})
			case message.BlockToolResult:
				converted.Content = append(converted.Content, ContentBlock{ToolResult: &ToolResult{
					ToolUseID: b.ToolUseID,
					Content:   []ToolResultContent{{Text: b.ResultText()}},
				}})
			}
		}
		if len(converted.Content) == 0 {
			continue
		}
		out.Messages = append(out.Messages, converted)
	}

	if len(req.Tools) > 0 {
		tc := &ToolConfig{Tools: make([]ToolEntry, 0, len(req.Tools))}
		for _, t := range req.Tools {
			schema := t.InputSchema
			if schema == nil {
				schema = map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				}
			}
			tc.Tools = append(tc.Tools, ToolEntry{ToolSpec: ToolSpec{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: InputSchema{JSON: schema},
			}})
		}
		out.ToolConfig = tc
	}

	if req.MaxTokens > 0 || req.Temperature != nil || req.TopP != nil {
		out.InferenceConfig = &InferenceConfig{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
		}
	}
	return out
}

// stopReasons maps Converse stopReason values; unknown values become
// end_turn so the mapping stays total.
var stopReasons = map[string]message.StopReason{
	"end_turn":         message.StopEndTurn,
	"tool_use":         message.StopToolUse,
	"max_tokens":       message.StopMaxTokens,
	"stop_sequence":    message.StopEndTurn,
	"content_filtered": message.StopContentFilter,
}

// MapStopReason converts a Converse stopReason.
func MapStopReason(reason string) message.StopReason {
	if r, ok := stopReasons[reason]; ok {
		return r
	}
	return message.StopEndTurn
}

// FromConverseResponse translates a Converse response back to canonical
// form. requestedModel is echoed regardless of the model that served the
// call.
func FromConverseResponse(resp *Response, requestedModel, provider string) (*message.Response, error) {
	if len(resp.Output.Message.Content) == 0 && resp.StopReason == "" {
		return nil, llm.NewError(llm.ErrKindNoChoices, provider, "converse response carried no output message")
	}

	var blocks []message.ContentBlock
	for _, part := range resp.Output.Message.Content {
		switch {
		case part.ToolUse != nil:
			id := part.ToolUse.ToolUseID
			if id == "" {
				id = message.NewToolUseID()
			}
			blocks = append(blocks, message.ToolUseBlock(id, part.ToolUse.Name, part.ToolUse.Input))
		case part.Text != "":
			blocks = append(blocks, message.TextBlock(part.Text))
		}
	}

	stop := MapStopReason(resp.StopReason)

	var usage message.Usage
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.InputTokens
		usage.OutputTokens = resp.Usage.OutputTokens
	}

	return message.NewResponse(requestedModel, blocks, stop, usage), nil
}
