// Package routing scores requests for complexity and picks the upstream
// provider: a static choice, a score-bucketed tier, or the fallback when
// the analyzer overrides the configured target.
package routing

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/relaygate/relaygate/internal/domain/message"
	"github.com/relaygate/relaygate/internal/domain/tool"
)

// Mode tunes the local-vs-cloud threshold.
type Mode string

const (
	ModeAggressive   Mode = "aggressive"   // prefer local: cloud only above 60
	ModeHeuristic    Mode = "heuristic"    // balanced: cloud above 40
	ModeConservative Mode = "conservative" // prefer cloud: local only below 25
)

// Threshold returns the score above which the recommendation is cloud.
func (m Mode) Threshold() int {
	switch m {
	case ModeAggressive:
		return 60
	case ModeConservative:
		return 25
	default:
		return 40
	}
}

// Recommendation is the analyzer's local-vs-cloud verdict.
type Recommendation string

const (
	RecommendLocal Recommendation = "local"
	RecommendCloud Recommendation = "cloud"
)

// Subscores is the per-dimension breakdown of a complexity score.
type Subscores struct {
	Token        int `json:"token"`
	Tool         int `json:"tool"`
	TaskType     int `json:"task_type"`
	Code         int `json:"code"`
	Reasoning    int `json:"reasoning"`
	Conversation int `json:"conversation"`
	Embedding    int `json:"embedding,omitempty"`
}

// Analysis is the analyzer's full output for one request.
type Analysis struct {
	Score          int            `json:"score"`
	Subscores      Subscores      `json:"subscores"`
	Classification string         `json:"classification"`
	Mode           Mode           `json:"mode"`
	Threshold      int            `json:"threshold"`
	Recommendation Recommendation `json:"recommendation"`
	Forced         bool           `json:"forced,omitempty"`
}

// Embedder provides optional semantic adjustment. Failures are silently
// ignored; the analyzer works fine without one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Analyzer scores canonical requests. Safe for concurrent use.
type Analyzer struct {
	mode     Mode
	embedder Embedder

	refMu      sync.Mutex
	complexRef []float32
	simpleRef  []float32
}

// NewAnalyzer creates an analyzer in the given mode. embedder may be nil.
func NewAnalyzer(mode Mode, embedder Embedder) *Analyzer {
	return &Analyzer{mode: mode, embedder: embedder}
}

// --- pattern tables ---

// forceLocal short-circuits trivialities to the local provider regardless
// of score.
var forceLocal = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|thanks|thank you|good (morning|afternoon|evening))\b`),
	regexp.MustCompile(`(?i)^\s*(ok|okay|sure|yes|no|got it|sounds good)\s*[.!]?\s*$`),
	regexp.MustCompile(`(?i)^\s*what time is it`),
}

// forceCloud short-circuits high-stakes work to the cloud provider.
var forceCloud = []*regexp.Regexp{
	regexp.MustCompile(`(?i)security (audit|review|assessment)`),
	regexp.MustCompile(`(?i)architecture (review|design|decision)`),
	regexp.MustCompile(`(?i)production (incident|outage|emergency)`),
	regexp.MustCompile(`(?i)entire codebase`),
	regexp.MustCompile(`(?i)microservices?`),
}

// taskTypes map phrasing families to a classification and a 0-25 score,
// checked in order: the first match wins.
var taskTypes = []struct {
	pattern        *regexp.Regexp
	classification string
	score          int
}{
	{regexp.MustCompile(`(?i)(entire|whole|all the) (codebase|project|repo)`), tool.ClassEntireCodebase, 25},
	{regexp.MustCompile(`(?i)from scratch|greenfield|brand.new (project|service|app)`), tool.ClassFromScratch, 23},
	{regexp.MustCompile(`(?i)(implement|build|create|write) (a|an|the|new)`), tool.ClassNewImplementation, 20},
	{regexp.MustCompile(`(?i)refactor|restructure|migrate|rewrite`), tool.ClassRefactoring, 18},
	{regexp.MustCompile(`(?i)debug|fix|error|exception|stack trace|optimi[sz]e|implement|code|function|api`), tool.ClassTechnical, 12},
	{regexp.MustCompile(`(?i)^\s*(is|are|does|do|can|could|should|will|would)\b.*\?\s*$`), tool.ClassYesNo, 3},
	{regexp.MustCompile(`(?i)^\s*(what|who|when|where|which)\b.{0,60}\?\s*$`), tool.ClassSimpleQuestion, 4},
	{regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you)\b`), tool.ClassGreeting, 0},
}

// codeVocab scores code-complexity vocabulary, additive and capped at 20.
var codeVocab = []struct {
	pattern *regexp.Regexp
	points  int
}{
	{regexp.MustCompile(`(?i)multi[- ]?file|across files|several (files|modules|packages)`), 5},
	{regexp.MustCompile(`(?i)architect|microservice|distributed|scalab`), 5},
	{regexp.MustCompile(`(?i)concurren|parallel|race condition|deadlock|goroutine|thread`), 4},
	{regexp.MustCompile(`(?i)security|vulnerab|injection|auth[a-z]*[nz]`), 4},
	{regexp.MustCompile(`(?i)\btest(s|ing)?\b|coverage|mock`), 3},
	{regexp.MustCompile(`(?i)performance|latency|throughput|profil|benchmark`), 3},
	{regexp.MustCompile(`(?i)database|schema|migration|index|query plan|transaction`), 3},
}

// reasoningVocab scores reasoning-heavy phrasing, additive and capped at 15.
var reasoningVocab = []struct {
	pattern *regexp.Regexp
	points  int
}{
	{regexp.MustCompile(`(?i)step[- ]by[- ]step|think through|walk me through`), 4},
	{regexp.MustCompile(`(?i)trade[- ]?offs?|pros and cons|compare`), 4},
	{regexp.MustCompile(`(?i)analy[sz]e|evaluate|assess`), 3},
	{regexp.MustCompile(`(?i)\bplan\b|roadmap|strategy|design doc`), 3},
	{regexp.MustCompile(`(?i)edge cases?|corner cases?|failure modes?`), 3},
}

// tokenScore buckets the estimated token count (4 chars per token).
func tokenScore(chars int) int {
	tokens := chars / 4
	switch {
	case tokens < 500:
		return 0
	case tokens < 1000:
		return 4
	case tokens < 2000:
		return 8
	case tokens < 4000:
		return 12
	case tokens < 8000:
		return 16
	default:
		return 20
	}
}

// toolScore buckets the declared tool count.
func toolScore(count int) int {
	switch {
	case count == 0:
		return 0
	case count <= 3:
		return 4
	case count <= 6:
		return 8
	case count <= 10:
		return 12
	case count <= 15:
		return 16
	default:
		return 20
	}
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Analyze scores the request. Force patterns override the score-derived
// recommendation; a forced-cloud result also floors the score high enough
// that tier routing lands in the top buckets.
func (a *Analyzer) Analyze(ctx context.Context, req *message.Request) *Analysis {
	lastUser := message.LastUserText(req.Messages)

	var totalChars int
	totalChars += len(req.System)
	for _, m := range req.Messages {
		totalChars += len(m.Content.Text())
	}

	sub := Subscores{
		Token: tokenScore(totalChars),
		Tool:  toolScore(len(req.Tools)),
	}

	classification := tool.ClassGeneral
	for _, tt := range taskTypes {
		if tt.pattern.MatchString(lastUser) {
			classification = tt.classification
			sub.TaskType = tt.score
			break
		}
	}

	for _, cv := range codeVocab {
		if cv.pattern.MatchString(lastUser) {
			sub.Code += cv.points
		}
	}
	if sub.Code > 20 {
		sub.Code = 20
	}

	for _, rv := range reasoningVocab {
		if rv.pattern.MatchString(lastUser) {
			sub.Reasoning += rv.points
		}
	}
	if sub.Reasoning > 15 {
		sub.Reasoning = 15
	}

	sub.Conversation = len(req.Messages) / 4
	if sub.Conversation > 5 {
		sub.Conversation = 5
	}

	sub.Embedding = a.embeddingAdjustment(ctx, lastUser)

	score := sub.Token + sub.Tool + sub.TaskType + sub.Code + sub.Reasoning + sub.Conversation + sub.Embedding
	threshold := a.mode.Threshold()

	analysis := &Analysis{
		Subscores:      sub,
		Classification: classification,
		Mode:           a.mode,
		Threshold:      threshold,
	}

	switch {
	case matchAny(forceLocal, lastUser):
		analysis.Forced = true
		analysis.Recommendation = RecommendLocal
		if score > 10 {
			score = 10
		}
	case matchAny(forceCloud, lastUser):
		analysis.Forced = true
		analysis.Recommendation = RecommendCloud
		if score < 80 {
			score = 80
		}
	default:
		if score >= threshold {
			analysis.Recommendation = RecommendCloud
		} else {
			analysis.Recommendation = RecommendLocal
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	analysis.Score = score
	return analysis
}

// embeddingAdjustment nudges the score by up to ±10 using cosine
// similarity to two fixed reference phrasings. Any failure returns 0.
func (a *Analyzer) embeddingAdjustment(ctx context.Context, text string) int {
	if a.embedder == nil || strings.TrimSpace(text) == "" {
		return 0
	}

	a.refMu.Lock()
	if a.complexRef == nil {
		ref, err := a.embedder.Embed(ctx, "a highly complex multi-step software engineering task requiring deep reasoning")
		if err != nil {
			a.refMu.Unlock()
			return 0
		}
		a.complexRef = ref
	}
	if a.simpleRef == nil {
		ref, err := a.embedder.Embed(ctx, "a trivially simple greeting or one-word answer")
		if err != nil {
			a.refMu.Unlock()
			return 0
		}
		a.simpleRef = ref
	}
	complexRef, simpleRef := a.complexRef, a.simpleRef
	a.refMu.Unlock()

	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return 0
	}

	adj := (cosine(vec, complexRef) - cosine(vec, simpleRef)) * 10
	if adj > 10 {
		adj = 10
	}
	if adj < -10 {
		adj = -10
	}
	return int(math.Round(adj))
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
