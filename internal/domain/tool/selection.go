package tool

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/relaygate/relaygate/internal/domain/message"
)

// Classification labels come from the complexity analyzer's task-type
// detection. They double as keys into the selection map.
const (
	ClassGreeting          = "greeting"
	ClassYesNo             = "yes_no"
	ClassSimpleQuestion    = "simple_question"
	ClassGeneral           = "general"
	ClassTechnical         = "technical"
	ClassRefactoring       = "refactoring"
	ClassNewImplementation = "new_implementation"
	ClassFromScratch       = "from_scratch"
	ClassEntireCodebase    = "entire_codebase"
)

// Mode mirrors the analyzer's routing mode and tunes how eagerly tools are
// offered.
type Mode string

const (
	ModeAggressive   Mode = "aggressive"
	ModeHeuristic    Mode = "heuristic"
	ModeConservative Mode = "conservative"
)

// SelectionConfig bounds the selected tool list.
type SelectionConfig struct {
	Mode        Mode
	MaxTools    int // provider hard cap, 0 = unlimited (Ollama: 8)
	TokenBudget int // estimated schema-token ceiling, 0 = unlimited
}

// schemaTokenEstimate is the fallback per-tool cost when the tokenizer is
// unavailable.
const schemaTokenEstimate = 175

// selectionMap maps a classification to the catalog tool names it needs.
// Conversational classes get none; escalating task classes widen the set.
var selectionMap = map[string][]string{
	ClassGreeting:          nil,
	ClassYesNo:             nil,
	ClassSimpleQuestion:    nil,
	ClassGeneral:           {"Read", "Grep", "Glob", "WebFetch"},
	ClassTechnical:         {"Read", "Grep", "Glob", "Edit", "Bash"},
	ClassRefactoring:       {"Read", "Grep", "Glob", "Edit", "Write", "Bash"},
	ClassNewImplementation: {"Read", "Grep", "Glob", "Edit", "Write", "Bash", "WebFetch"},
	ClassFromScratch:       {"Read", "Grep", "Glob", "Edit", "Write", "Bash", "WebFetch"},
	ClassEntireCodebase:    {"Read", "Grep", "Glob", "Edit", "Write", "Bash", "WebFetch"},
}

// ambiguousTools are the ones an aggressive selection drops: broad
// side-effecting tools a small model tends to misuse.
var ambiguousTools = map[string]bool{
	"Bash":     true,
	"WebFetch": true,
}

// Select filters tools down to what the request's classification needs.
// An unknown classification keeps the full list. The classification map
// applies first, then the mode modifier, the provider cap, and the token
// budget, each trimming from the tail so the most useful tools survive.
func Select(classification string, tools []message.Tool, cfg SelectionConfig) []message.Tool {
	out := tools

	if wanted, ok := selectionMap[classification]; ok {
		allowed := make(map[string]bool, len(wanted))
		for _, name := range wanted {
			allowed[name] = true
		}
		filtered := make([]message.Tool, 0, len(wanted))
		for _, t := range tools {
			if allowed[t.Name] {
				filtered = append(filtered, t)
			}
		}
		out = filtered
	}

	switch cfg.Mode {
	case ModeAggressive:
		trimmed := make([]message.Tool, 0, len(out))
		for _, t := range out {
			if !ambiguousTools[t.Name] {
				trimmed = append(trimmed, t)
			}
		}
		out = trimmed
	case ModeConservative:
		// One safety tool: always be able to look before acting.
		if len(out) > 0 && !containsTool(out, "Read") {
			out = append([]message.Tool{readTool()}, out...)
		}
	}

	if cfg.MaxTools > 0 && len(out) > cfg.MaxTools {
		out = out[:cfg.MaxTools]
	}

	if cfg.TokenBudget > 0 {
		total := 0
		kept := 0
		for _, t := range out {
			cost := EstimateSchemaTokens(t)
			if total+cost > cfg.TokenBudget {
				break
			}
			total += cost
			kept++
		}
		out = out[:kept]
	}
	return out
}

func containsTool(tools []message.Tool, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func readTool() message.Tool {
	for _, t := range catalog {
		if t.Name == "Read" {
			return t
		}
	}
	return message.Tool{Name: "Read"}
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateSchemaTokens estimates the prompt cost of one tool declaration
// by tokenizing its serialized schema. Tokenizer failures fall back to a
// flat per-tool estimate.
func EstimateSchemaTokens(t message.Tool) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return schemaTokenEstimate
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return schemaTokenEstimate
	}
	return len(encoding.Encode(string(raw), nil, nil))
}
