package routing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/relaygate/relaygate/internal/domain/message"
	"github.com/relaygate/relaygate/internal/domain/tool"
)

func userRequest(text string) *message.Request {
	return &message.Request{
		Messages: []message.Message{
			{Role: message.RoleUser, Content: message.TextContent(text)},
		},
	}
}

func TestAnalyze_ScoreBounds(t *testing.T) {
	prompts := []string{
		"hi",
		"Refactor the entire codebase to use microservices",
		strings.Repeat("explain the architecture trade-offs step by step ", 500),
		"",
	}
	a := NewAnalyzer(ModeHeuristic, nil)
	for _, p := range prompts {
		got := a.Analyze(context.Background(), userRequest(p))
		if got.Score < 0 || got.Score > 100 {
			t.Errorf("score out of range for %.40q: %d", p, got.Score)
		}
	}
}

func TestAnalyze_ForceLocalGreeting(t *testing.T) {
	a := NewAnalyzer(ModeConservative, nil)
	got := a.Analyze(context.Background(), userRequest("Hello there!"))
	if got.Recommendation != RecommendLocal || !got.Forced {
		t.Fatalf("greeting must force local: %+v", got)
	}
	if got.Classification != tool.ClassGreeting {
		t.Fatalf("bad classification: %s", got.Classification)
	}
}

func TestAnalyze_ForceCloudSecurityAudit(t *testing.T) {
	a := NewAnalyzer(ModeAggressive, nil)
	got := a.Analyze(context.Background(), userRequest("Please run a security audit of the auth flow"))
	if got.Recommendation != RecommendCloud || !got.Forced {
		t.Fatalf("security audit must force cloud: %+v", got)
	}
}

func TestAnalyze_MicroservicesRefactorScoresHigh(t *testing.T) {
	a := NewAnalyzer(ModeHeuristic, nil)
	got := a.Analyze(context.Background(), userRequest("Refactor the entire codebase to use microservices"))
	if got.Score < 75 {
		t.Fatalf("expected score >= 75, got %d (%+v)", got.Score, got.Subscores)
	}
	if got.Recommendation != RecommendCloud {
		t.Fatalf("expected cloud recommendation: %+v", got)
	}
}

func TestAnalyze_ThresholdsByMode(t *testing.T) {
	tests := []struct {
		mode Mode
		want int
	}{
		{ModeAggressive, 60},
		{ModeHeuristic, 40},
		{ModeConservative, 25},
	}
	for _, tt := range tests {
		a := NewAnalyzer(tt.mode, nil)
		got := a.Analyze(context.Background(), userRequest("write a function"))
		if got.Threshold != tt.want {
			t.Errorf("%s: threshold = %d, want %d", tt.mode, got.Threshold, tt.want)
		}
	}
}

func TestAnalyze_TokenBuckets(t *testing.T) {
	tests := []struct {
		chars int
		want  int
	}{
		{100, 0},
		{500 * 4, 4},
		{1000 * 4, 8},
		{2000 * 4, 12},
		{4000 * 4, 16},
		{8000 * 4, 20},
	}
	for _, tt := range tests {
		if got := tokenScore(tt.chars); got != tt.want {
			t.Errorf("tokenScore(%d chars) = %d, want %d", tt.chars, got, tt.want)
		}
	}
}

func TestAnalyze_ToolBuckets(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{0, 0}, {1, 4}, {3, 4}, {4, 8}, {6, 8}, {7, 12}, {10, 12}, {11, 16}, {15, 16}, {16, 20},
	}
	for _, tt := range tests {
		if got := toolScore(tt.count); got != tt.want {
			t.Errorf("toolScore(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}
}

func TestAnalyze_ConversationBonusCapped(t *testing.T) {
	req := &message.Request{}
	for i := 0; i < 40; i++ {
		role := message.RoleUser
		if i%2 == 1 {
			role = message.RoleAssistant
		}
		req.Messages = append(req.Messages, message.Message{Role: role, Content: message.TextContent("x")})
	}
	a := NewAnalyzer(ModeHeuristic, nil)
	got := a.Analyze(context.Background(), req)
	if got.Subscores.Conversation != 5 {
		t.Fatalf("bonus not capped: %d", got.Subscores.Conversation)
	}
}

// stubEmbedder returns fixed vectors keyed by substring.
type stubEmbedder struct {
	fail bool
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("embedder down")
	}
	switch {
	case strings.Contains(text, "highly complex"):
		return []float32{1, 0}, nil
	case strings.Contains(text, "trivially simple"):
		return []float32{0, 1}, nil
	default:
		return []float32{1, 0.1}, nil
	}
}

func TestAnalyze_EmbeddingAdjustment(t *testing.T) {
	a := NewAnalyzer(ModeHeuristic, &stubEmbedder{})
	got := a.Analyze(context.Background(), userRequest("design the data layer"))
	if got.Subscores.Embedding <= 0 || got.Subscores.Embedding > 10 {
		t.Fatalf("adjustment out of range: %d", got.Subscores.Embedding)
	}
}

func TestAnalyze_EmbeddingFailureIsSilent(t *testing.T) {
	a := NewAnalyzer(ModeHeuristic, &stubEmbedder{fail: true})
	got := a.Analyze(context.Background(), userRequest("design the data layer"))
	if got.Subscores.Embedding != 0 {
		t.Fatalf("failed embedder must contribute zero: %d", got.Subscores.Embedding)
	}
}
