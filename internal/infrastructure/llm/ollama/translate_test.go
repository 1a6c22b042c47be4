package ollama

import (
	"testing"

	"github.com/relaygate/relaygate/internal/domain/message"
)

func TestToNativeMessages_StringContent(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.BlocksContent(
			message.TextBlock("a"),
			message.TextBlock("b"),
		)},
	}
	out := ToNativeMessages("sys", msgs)
	if len(out) != 2 {
		t.Fatalf("expected system + user, got %d", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "sys" {
		t.Fatalf("bad system: %+v", out[0])
	}
	if out[1].Content != "a\nb" {
		t.Fatalf("text not joined: %q", out[1].Content)
	}
}

func TestToNativeMessages_ToolResultBecomesToolRole(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleAssistant, Content: message.BlocksContent(
			message.ToolUseBlock("t1", "Read", map[string]interface{}{"file_path": "/a"}),
		)},
		{Role: message.RoleUser, Content: message.BlocksContent(
			message.ToolResultBlock("t1", "data"),
		)},
	}
	out := ToNativeMessages("", msgs)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %+v", out)
	}
	if len(out[0].ToolCalls) != 1 || out[0].ToolCalls[0].Function.Name != "Read" {
		t.Fatalf("bad tool call: %+v", out[0])
	}
	if out[0].ToolCalls[0].Function.Arguments["file_path"] != "/a" {
		t.Fatalf("arguments must stay an object: %+v", out[0].ToolCalls[0].Function)
	}
	if out[1].Role != "tool" || out[1].Content != "data" {
		t.Fatalf("bad tool message: %+v", out[1])
	}
}

func TestToNativeMessages_DropsOrphanResult(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.BlocksContent(
			message.ToolResultBlock("never", "orphan"),
		)},
	}
	out := ToNativeMessages("", msgs)
	if len(out) != 0 {
		t.Fatalf("orphan result must drop its message: %+v", out)
	}
}

func TestCompactSameRole(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "one"},
		{Role: "user", Content: "two"},
		{Role: "assistant", Content: "ok"},
		{Role: "tool", Content: "ra"},
		{Role: "tool", Content: "rb"},
	}
	out, merged := CompactSameRole(msgs)
	if merged != 1 {
		t.Fatalf("expected 1 merge, got %d", merged)
	}
	if out[0].Content != "one\ntwo" {
		t.Fatalf("got %q", out[0].Content)
	}
	if len(out) != 4 {
		t.Fatalf("tool messages must not merge: %+v", out)
	}
}

func TestToNativeRequest_Options(t *testing.T) {
	temp := 0.1
	req := &message.Request{
		Messages:    []message.Message{{Role: message.RoleUser, Content: message.TextContent("x")}},
		MaxTokens:   64,
		Temperature: &temp,
	}
	out := ToNativeRequest(req, "qwen2.5:7b")
	if out.Model != "qwen2.5:7b" || out.Stream {
		t.Fatalf("bad request: %+v", out)
	}
	if out.Options == nil || out.Options.NumPredict != 64 || *out.Options.Temperature != 0.1 {
		t.Fatalf("bad options: %+v", out.Options)
	}
}

func TestToNativeTools_NilSchemaDefaulted(t *testing.T) {
	out := ToNativeTools([]message.Tool{{Name: "Glob"}})
	if out[0].Function.Parameters["type"] != "object" {
		t.Fatalf("nil schema not defaulted: %+v", out[0].Function.Parameters)
	}
}

func TestFromNativeResponse_Text(t *testing.T) {
	resp := &Response{
		Message:         Message{Role: "assistant", Content: "hi"},
		Done:            true,
		DoneReason:      "stop",
		PromptEvalCount: 7,
		EvalCount:       2,
	}
	out := FromNativeResponse(resp, "m")
	if out.Content[0].Text != "hi" || out.StopReason != message.StopEndTurn {
		t.Fatalf("bad response: %+v", out)
	}
	if out.Usage.InputTokens != 7 || out.Usage.OutputTokens != 2 {
		t.Fatalf("bad usage: %+v", out.Usage)
	}
}

func TestFromNativeResponse_ToolCalls(t *testing.T) {
	resp := &Response{
		Message: Message{ToolCalls: []ToolCall{
			{Function: ToolCallFunc{Name: "Bash", Arguments: map[string]interface{}{"command": "ls"}}},
		}},
		DoneReason: "stop",
	}
	out := FromNativeResponse(resp, "m")
	if out.StopReason != message.StopToolUse {
		t.Fatalf("bad stop reason: %s", out.StopReason)
	}
	block := out.Content[0]
	if block.Type != message.BlockToolUse || block.Name != "Bash" || block.ID == "" {
		t.Fatalf("bad tool_use block: %+v", block)
	}
}

func TestFromNativeResponse_JSONLeakSuppression(t *testing.T) {
	leak := `{"type":"function","function":{"name":"Write","parameters":{}}}`

	withCalls := FromNativeResponse(&Response{
		Message: Message{Content: leak, ToolCalls: []ToolCall{
			{Function: ToolCallFunc{Name: "Write", Arguments: map[string]interface{}{}}},
		}},
	}, "m")
	if len(withCalls.Content) != 1 || withCalls.Content[0].Type != message.BlockToolUse {
		t.Fatalf("leaked text not suppressed: %+v", withCalls.Content)
	}

	withoutCalls := FromNativeResponse(&Response{
		Message: Message{Content: leak},
	}, "m")
	if len(withoutCalls.Content) != 1 || withoutCalls.Content[0].Text != "" {
		t.Fatalf("hallucination not emptied: %+v", withoutCalls.Content)
	}
}

func TestFromNativeResponse_LengthMapsToMaxTokens(t *testing.T) {
	out := FromNativeResponse(&Response{Message: Message{Content: "trunc"}, DoneReason: "length"}, "m")
	if out.StopReason != message.StopMaxTokens {
		t.Fatalf("bad stop reason: %s", out.StopReason)
	}
}
