package memory

import (
	"math"
	"strings"
)

// lexicalVector is a term-frequency map over lowercased tokens.
type lexicalVector map[string]float64

func vectorize(text string) lexicalVector {
	v := make(lexicalVector)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if tok == "" {
			continue
		}
		v[tok]++
	}
	return v
}

func lexicalCosine(a, b lexicalVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for tok, wa := range a {
		na += wa * wa
		if wb, ok := b[tok]; ok {
			dot += wa * wb
		}
	}
	for _, wb := range b {
		nb += wb * wb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// surpriseScore is 1 minus the highest lexical similarity between the
// candidate and any prior fragment. No priors means maximal surprise.
func surpriseScore(content string, priors []string) float64 {
	if len(priors) == 0 {
		return 1.0
	}
	candidate := vectorize(content)
	maxSim := 0.0
	for _, prior := range priors {
		if sim := lexicalCosine(candidate, vectorize(prior)); sim > maxSim {
			maxSim = sim
		}
	}
	return 1.0 - maxSim
}

// importanceOf computes initial importance: per-type base plus a surprise
// contribution, clamped to [0,1].
func importanceOf(memType string, surprise float64) float64 {
	base, ok := baseImportance[memType]
	if !ok {
		base = 0.5
	}
	imp := base + 0.3*surprise
	if imp > 1 {
		imp = 1
	}
	if imp < 0 {
		imp = 0
	}
	return imp
}

// decayFactor downweights a memory by age: 0.5^(ageDays / halfLife).
func decayFactor(ageDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// effectiveScore ranks a memory for retrieval: decayed importance boosted
// by access frequency.
func effectiveScore(importance, decay float64, accessCount int) float64 {
	return importance * decay * (1 + math.Log(1+float64(accessCount)))
}
