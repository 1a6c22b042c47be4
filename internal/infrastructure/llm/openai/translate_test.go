package openai

import (
	"encoding/json"
	"testing"

	"github.com/relaygate/relaygate/internal/domain/message"
	llm "github.com/relaygate/relaygate/internal/infrastructure/llm"
)

func TestToChatMessages_TextOnly(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.TextContent("Hello")},
	}
	out := ToChatMessages("You are helpful.", msgs)
	if len(out) != 2 {
		t.Fatalf("expected system + user, got %d", len(out))
	}
	if out[0].Role != "system" || *out[0].Content != "You are helpful." {
		t.Fatalf("bad system message: %+v", out[0])
	}
	if out[1].Role != "user" || *out[1].Content != "Hello" {
		t.Fatalf("bad user message: %+v", out[1])
	}
}

func TestToChatMessages_ToolUseAndResult(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleAssistant, Content: message.BlocksContent(
			message.ToolUseBlock("toolu_1", "Read", map[string]interface{}{"file_path": "/a"}),
		)},
		{Role: message.RoleUser, Content: message.BlocksContent(
			message.ToolResultBlock("toolu_1", "contents"),
		)},
	}
	out := ToChatMessages("", msgs)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(out), out)
	}

	asst := out[0]
	if asst.Role != "assistant" || len(asst.ToolCalls) != 1 {
		t.Fatalf("bad assistant message: %+v", asst)
	}
	tc := asst.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Type != "function" || tc.Function.Name != "Read" {
		t.Fatalf("bad tool call: %+v", tc)
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["file_path"] != "/a" {
		t.Fatalf("bad arguments: %v", args)
	}

	tool := out[1]
	if tool.Role != "tool" || tool.ToolCallID != "toolu_1" || *tool.Content != "contents" {
		t.Fatalf("bad tool message: %+v", tool)
	}
}

func TestToChatMessages_DropsOrphanToolResult(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.BlocksContent(
			message.ToolResultBlock("toolu_never_emitted", "orphan"),
			message.TextBlock("please continue"),
		)},
	}
	out := ToChatMessages("", msgs)
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if out[0].Role != "user" || *out[0].Content != "please continue" {
		t.Fatalf("unexpected message: %+v", out[0])
	}
}

func TestToChatMessages_ConcatenatesTextBlocks(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.BlocksContent(
			message.TextBlock("line one"),
			message.TextBlock("line two"),
		)},
	}
	out := ToChatMessages("", msgs)
	if *out[0].Content != "line one\nline two" {
		t.Fatalf("got %q", *out[0].Content)
	}
}

func TestCompactSameRole_MergesByConcatenation(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: strPtr("first")},
		{Role: "user", Content: strPtr("second")},
		{Role: "assistant", Content: strPtr("ok")},
		{Role: "assistant", Content: strPtr("done")},
	}
	out, merged := CompactSameRole(msgs)
	if merged != 2 {
		t.Fatalf("expected 2 merges, got %d", merged)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if *out[0].Content != "first\nsecond" {
		t.Fatalf("got %q", *out[0].Content)
	}
	if *out[1].Content != "ok\ndone" {
		t.Fatalf("got %q", *out[1].Content)
	}
}

func TestCompactSameRole_NeverMergesToolMessages(t *testing.T) {
	msgs := []Message{
		{Role: "tool", ToolCallID: "a", Content: strPtr("ra")},
		{Role: "tool", ToolCallID: "b", Content: strPtr("rb")},
	}
	out, merged := CompactSameRole(msgs)
	if merged != 0 || len(out) != 2 {
		t.Fatalf("tool messages must not merge: merged=%d len=%d", merged, len(out))
	}
}

func TestFromChatResponse_PlainText(t *testing.T) {
	body := `{"choices":[{"message":{"role":"assistant","content":"Hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`
	resp, err := FromChatResponse([]byte(body), "gpt-4o", "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != message.BlockText || resp.Content[0].Text != "Hi" {
		t.Fatalf("bad content: %+v", resp.Content)
	}
	if resp.StopReason != message.StopEndTurn {
		t.Fatalf("bad stop reason: %s", resp.StopReason)
	}
	if resp.Usage.InputTokens != 1 || resp.Usage.OutputTokens != 1 {
		t.Fatalf("bad usage: %+v", resp.Usage)
	}
	if resp.Model != "gpt-4o" {
		t.Fatalf("model not echoed: %s", resp.Model)
	}
}

func TestFromChatResponse_ModelEchoIgnoresUpstream(t *testing.T) {
	body := `{"model":"upstream-internal-name","choices":[{"message":{"content":"x"},"finish_reason":"stop"}]}`
	resp, err := FromChatResponse([]byte(body), "caller-model", "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "caller-model" {
		t.Fatalf("expected caller model, got %s", resp.Model)
	}
}

func TestFromChatResponse_TextThenToolCalls(t *testing.T) {
	body := `{"choices":[{"message":{"content":"Let me read that.","tool_calls":[
		{"id":"c1","type":"function","function":{"name":"Read","arguments":"{\"file_path\":\"/a\"}"}},
		{"id":"c2","type":"function","function":{"name":"Grep","arguments":"{\"pattern\":\"x\"}"}}
	]},"finish_reason":"tool_calls"}]}`
	resp, err := FromChatResponse([]byte(body), "m", "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Content) != 3 {
		t.Fatalf("expected text + 2 tool_use, got %d", len(resp.Content))
	}
	if resp.Content[0].Type != message.BlockText {
		t.Fatal("first block must be text")
	}
	if resp.Content[1].Name != "Read" || resp.Content[2].Name != "Grep" {
		t.Fatalf("tool order not preserved: %+v", resp.Content)
	}
	if resp.StopReason != message.StopToolUse {
		t.Fatalf("bad stop reason: %s", resp.StopReason)
	}
}

func TestFromChatResponse_JSONLeakWithToolCalls(t *testing.T) {
	// Scenario: local model echoes the tool call as JSON text AND emits a
	// structured tool_calls array. The text block must be suppressed.
	content := `{\"type\":\"function\",\"function\":{\"name\":\"Write\",\"parameters\":{\"file_path\":\"t.c\",\"content\":\"x\"}}}`
	body := `{"choices":[{"message":{"content":"` + content + `","tool_calls":[
		{"id":"c1","function":{"name":"Write","arguments":"{\"file_path\":\"t.c\",\"content\":\"x\"}"}}
	]},"finish_reason":"tool_calls"}]}`
	resp, err := FromChatResponse([]byte(body), "m", "ollama")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Content) != 1 {
		t.Fatalf("expected exactly one block, got %+v", resp.Content)
	}
	if resp.Content[0].Type != message.BlockToolUse || resp.Content[0].Name != "Write" {
		t.Fatalf("expected tool_use only, got %+v", resp.Content[0])
	}
	if resp.StopReason != message.StopToolUse {
		t.Fatalf("bad stop reason: %s", resp.StopReason)
	}
}

func TestFromChatResponse_JSONHallucinationWithoutToolCalls(t *testing.T) {
	content := `{\"function\":{\"name\":\"Write\"}}`
	body := `{"choices":[{"message":{"content":"` + content + `"},"finish_reason":"stop"}]}`
	resp, err := FromChatResponse([]byte(body), "m", "ollama")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != message.BlockText || resp.Content[0].Text != "" {
		t.Fatalf("expected single empty text block, got %+v", resp.Content)
	}
}

func TestFromChatResponse_NullContent(t *testing.T) {
	body := `{"choices":[{"message":{"content":null},"finish_reason":"stop"}]}`
	resp, err := FromChatResponse([]byte(body), "m", "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != message.BlockText || resp.Content[0].Text != "" {
		t.Fatalf("expected single empty text block, got %+v", resp.Content)
	}
}

func TestFromChatResponse_BadArgumentsYieldEmptyInput(t *testing.T) {
	body := `{"choices":[{"message":{"content":null,"tool_calls":[
		{"id":"","function":{"name":"Read","arguments":"not json"}}
	]},"finish_reason":"tool_calls"}]}`
	resp, err := FromChatResponse([]byte(body), "m", "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	block := resp.Content[0]
	if block.Type != message.BlockToolUse {
		t.Fatalf("expected tool_use, got %+v", block)
	}
	if len(block.Input) != 0 {
		t.Fatalf("expected empty input, got %v", block.Input)
	}
	if block.ID == "" {
		t.Fatal("missing id must be generated")
	}
}

func TestFromChatResponse_NoChoices(t *testing.T) {
	_, err := FromChatResponse([]byte(`{"choices":[]}`), "m", "openai")
	if err == nil {
		t.Fatal("expected error")
	}
	if kind, ok := llm.KindOf(err); !ok || kind != llm.ErrKindNoChoices {
		t.Fatalf("expected no_choices kind, got %v", err)
	}
}

func TestMapFinishReason_Total(t *testing.T) {
	tests := []struct {
		in   string
		want message.StopReason
	}{
		{"stop", message.StopEndTurn},
		{"tool_calls", message.StopToolUse},
		{"length", message.StopMaxTokens},
		{"content_filter", message.StopContentFilter},
		{"weird_future_value", message.StopEndTurn},
		{"", message.StopEndTurn},
	}
	for _, tt := range tests {
		if got := MapFinishReason(tt.in); got != tt.want {
			t.Errorf("MapFinishReason(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFromChatResponse_MissingUsageYieldsZeros(t *testing.T) {
	body := `{"choices":[{"message":{"content":"x"},"finish_reason":"stop"}]}`
	resp, err := FromChatResponse([]byte(body), "m", "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Usage.InputTokens != 0 || resp.Usage.OutputTokens != 0 {
		t.Fatalf("expected zero usage, got %+v", resp.Usage)
	}
}

func TestRoundTrip_PlainTextVerbatim(t *testing.T) {
	req := &message.Request{
		Model: "m",
		Messages: []message.Message{
			{Role: message.RoleUser, Content: message.TextContent("What is 2+2?")},
		},
	}
	chat := ToChatRequest(req, "m")
	if len(chat.Messages) != 1 {
		t.Fatalf("unexpected translation: %+v", chat.Messages)
	}

	upstream := `{"choices":[{"message":{"content":"4"},"finish_reason":"stop"}]}`
	resp, err := FromChatResponse([]byte(upstream), "m", "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content[0].Text != "4" {
		t.Fatalf("text not preserved verbatim: %+v", resp.Content)
	}
}
