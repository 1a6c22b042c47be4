package message

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestContent_UnmarshalString(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"Hello"}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !m.Content.IsString() {
		t.Fatal("expected string content")
	}
	if m.Content.Text() != "Hello" {
		t.Fatalf("got %q", m.Content.Text())
	}
	blocks := m.Content.Blocks()
	if len(blocks) != 1 || blocks[0].Type != BlockText {
		t.Fatalf("expected single text block, got %+v", blocks)
	}
}

func TestContent_UnmarshalBlocks(t *testing.T) {
	raw := `{"role":"assistant","content":[
		{"type":"text","text":"thinking"},
		{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"/a"}}
	]}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	blocks := m.Content.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[1].Type != BlockToolUse || blocks[1].ID != "toolu_1" || blocks[1].Name != "Read" {
		t.Fatalf("bad tool_use block: %+v", blocks[1])
	}
	if blocks[1].Input["file_path"] != "/a" {
		t.Fatalf("bad input: %+v", blocks[1].Input)
	}
}

func TestContent_RoundTripPreservesShape(t *testing.T) {
	for _, raw := range []string{
		`"plain"`,
		`[{"type":"text","text":"a"}]`,
	} {
		var c Content
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		out, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != raw {
			t.Errorf("round trip changed shape: %s -> %s", raw, out)
		}
	}
}

func TestNormalize_DropsOrphanToolResults(t *testing.T) {
	msgs := []Message{
		{Role: RoleAssistant, Content: BlocksContent(
			ToolUseBlock("toolu_1", "Read", map[string]interface{}{"file_path": "/a"}),
		)},
		{Role: RoleUser, Content: BlocksContent(
			ToolResultBlock("toolu_1", "contents"),
			ToolResultBlock("toolu_missing", "orphan"),
		)},
	}

	out := Normalize(msgs)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	blocks := out[1].Content.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("expected orphan dropped, got %d blocks", len(blocks))
	}
	if blocks[0].ToolUseID != "toolu_1" {
		t.Fatalf("kept wrong block: %+v", blocks[0])
	}
}

func TestNormalize_DropsMessageLeftEmpty(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: BlocksContent(
			ToolResultBlock("toolu_nope", "orphan only"),
		)},
	}
	out := Normalize(msgs)
	if len(out) != 0 {
		t.Fatalf("expected message dropped entirely, got %d", len(out))
	}
}

func TestResultText_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		content interface{}
		want    string
	}{
		{"string", "plain", "plain"},
		{"nil", nil, ""},
		{"block array", []interface{}{
			map[string]interface{}{"type": "text", "text": "line1"},
			map[string]interface{}{"type": "text", "text": "line2"},
		}, "line1\nline2"},
		{"object", map[string]interface{}{"ok": true}, `{"ok":true}`},
	}
	for _, tt := range tests {
		b := ToolResultBlock("toolu_x", tt.content)
		if got := b.ResultText(); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestNewResponse_NeverEmptyContent(t *testing.T) {
	resp := NewResponse("gpt-test", nil, StopEndTurn, Usage{})
	if len(resp.Content) != 1 || resp.Content[0].Type != BlockText || resp.Content[0].Text != "" {
		t.Fatalf("expected single empty text block, got %+v", resp.Content)
	}
	if !strings.HasPrefix(resp.ID, "msg_") {
		t.Fatalf("bad id: %s", resp.ID)
	}
	if resp.Model != "gpt-test" {
		t.Fatalf("model not echoed: %s", resp.Model)
	}
}

func TestNewToolUseID_Scheme(t *testing.T) {
	id := NewToolUseID()
	if !strings.HasPrefix(id, "toolu_") {
		t.Fatalf("bad scheme: %s", id)
	}
	if id == NewToolUseID() {
		t.Fatal("ids should be unique")
	}
}

func TestLastUserText(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: TextContent("first")},
		{Role: RoleAssistant, Content: TextContent("reply")},
		{Role: RoleUser, Content: TextContent("second")},
	}
	if got := LastUserText(msgs); got != "second" {
		t.Fatalf("got %q", got)
	}
	if got := LastUserText(nil); got != "" {
		t.Fatalf("got %q for empty", got)
	}
}
