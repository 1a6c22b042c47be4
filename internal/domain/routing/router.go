package routing

import (
	"fmt"
	"strings"
)

// Method records how a routing decision was reached.
type Method string

const (
	MethodStatic     Method = "static"
	MethodComplexity Method = "complexity"
	MethodTier       Method = "tier"
	MethodFallback   Method = "fallback"
)

// Tier buckets the complexity score.
type Tier string

const (
	TierSimple    Tier = "SIMPLE"    // 0-25
	TierMedium    Tier = "MEDIUM"    // 26-50
	TierComplex   Tier = "COMPLEX"   // 51-75
	TierReasoning Tier = "REASONING" // 76-100
)

// TierOf maps a score to its bucket.
func TierOf(score int) Tier {
	switch {
	case score <= 25:
		return TierSimple
	case score <= 50:
		return TierMedium
	case score <= 75:
		return TierComplex
	default:
		return TierReasoning
	}
}

// Target is a parsed provider:model tier setting.
type Target struct {
	Provider string
	Model    string
}

// ParseTarget splits "provider:model". The model part may itself contain
// colons (Ollama tags like qwen2.5:7b), so only the first colon splits.
func ParseTarget(s string) (Target, error) {
	provider, model, ok := strings.Cut(s, ":")
	if !ok || provider == "" || model == "" {
		return Target{}, fmt.Errorf("tier target %q is not provider:model", s)
	}
	return Target{Provider: provider, Model: model}, nil
}

// Decision is the routing outcome attached to responses for observability.
type Decision struct {
	Provider       string `json:"provider"`
	Model          string `json:"model,omitempty"`
	Method         Method `json:"method"`
	Score          int    `json:"score"`
	Threshold      int    `json:"threshold"`
	Mode           Mode   `json:"mode"`
	Tier           Tier   `json:"tier,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// RouterConfig configures provider selection.
type RouterConfig struct {
	// StaticProvider is the always-chosen provider in static mode.
	StaticProvider string

	// LocalProvider is the provider force-local decisions divert to.
	// Empty means no local provider is configured.
	LocalProvider string

	// Tiers maps all four tiers to provider:model targets. Tier mode is
	// enabled only when every tier is set.
	Tiers map[Tier]Target

	FallbackEnabled  bool
	FallbackProvider string

	// IsLocal classifies provider identifiers; injected so the routing
	// domain stays free of provider-registry knowledge.
	IsLocal func(identifier string) bool
}

// Router picks the primary provider for a request.
type Router struct {
	cfg      RouterConfig
	tiered   bool
	decision *DecisionLog
}

// NewRouter creates a router. Tier mode engages only when all four tiers
// are configured; otherwise the router is static.
func NewRouter(cfg RouterConfig, log *DecisionLog) *Router {
	if cfg.IsLocal == nil {
		cfg.IsLocal = func(string) bool { return false }
	}
	tiered := len(cfg.Tiers) == 4
	for _, tier := range []Tier{TierSimple, TierMedium, TierComplex, TierReasoning} {
		if _, ok := cfg.Tiers[tier]; !ok {
			tiered = false
		}
	}
	return &Router{cfg: cfg, tiered: tiered, decision: log}
}

// Tiered reports whether tier mode is active.
func (r *Router) Tiered() bool { return r.tiered }

// FallbackEnabled reports whether the dispatcher may divert to the
// fallback provider.
func (r *Router) FallbackEnabled() bool {
	return r.cfg.FallbackEnabled && r.cfg.FallbackProvider != ""
}

// FallbackProvider returns the configured fallback target.
func (r *Router) FallbackProvider() string { return r.cfg.FallbackProvider }

// Route picks the primary provider from the analysis. The decision is
// recorded in the log when one is attached.
func (r *Router) Route(analysis *Analysis) Decision {
	d := r.route(analysis)
	if r.decision != nil {
		r.decision.Add(d)
	}
	return d
}

func (r *Router) route(analysis *Analysis) Decision {
	base := Decision{
		Score:     analysis.Score,
		Threshold: analysis.Threshold,
		Mode:      analysis.Mode,
	}

	if r.tiered {
		tier := TierOf(analysis.Score)
		target := r.cfg.Tiers[tier]
		base.Provider = target.Provider
		base.Model = target.Model
		base.Method = MethodTier
		base.Tier = tier
		return base
	}

	base.Provider = r.cfg.StaticProvider
	base.Method = MethodStatic

	if !analysis.Forced {
		return base
	}

	switch analysis.Recommendation {
	case RecommendLocal:
		if r.cfg.LocalProvider != "" {
			base.Provider = r.cfg.LocalProvider
			base.Method = MethodComplexity
		}
	case RecommendCloud:
		if r.cfg.IsLocal(r.cfg.StaticProvider) && r.FallbackEnabled() {
			base.Provider = r.cfg.FallbackProvider
			base.Method = MethodComplexity
		}
	}
	return base
}
