package tool

import (
	"testing"
)

func toolNames(ts []string) map[string]bool {
	m := make(map[string]bool, len(ts))
	for _, n := range ts {
		m[n] = true
	}
	return m
}

func selectedNames(classification string, cfg SelectionConfig) []string {
	sel := Select(classification, Catalog(), cfg)
	out := make([]string, len(sel))
	for i, t := range sel {
		out[i] = t.Name
	}
	return out
}

func TestSelect_ConversationalClassesGetNoTools(t *testing.T) {
	for _, class := range []string{ClassGreeting, ClassYesNo, ClassSimpleQuestion} {
		if got := selectedNames(class, SelectionConfig{}); len(got) != 0 {
			t.Errorf("%s: expected no tools, got %v", class, got)
		}
	}
}

func TestSelect_FileReadingClasses(t *testing.T) {
	got := toolNames(selectedNames(ClassGeneral, SelectionConfig{}))
	for _, want := range []string{"Read", "Grep", "Glob"} {
		if !got[want] {
			t.Errorf("general selection missing %s: %v", want, got)
		}
	}
	if got["Bash"] || got["Write"] {
		t.Errorf("general selection too wide: %v", got)
	}
}

func TestSelect_ComplexClassesGetFullSet(t *testing.T) {
	got := selectedNames(ClassEntireCodebase, SelectionConfig{})
	if len(got) != len(Catalog()) {
		t.Fatalf("expected full catalog, got %v", got)
	}
}

func TestSelect_UnknownClassificationKeepsAll(t *testing.T) {
	got := selectedNames("something_new", SelectionConfig{})
	if len(got) != len(Catalog()) {
		t.Fatalf("unknown classification must keep the list: %v", got)
	}
}

func TestSelect_AggressiveTrimsAmbiguous(t *testing.T) {
	got := toolNames(selectedNames(ClassTechnical, SelectionConfig{Mode: ModeAggressive}))
	if got["Bash"] || got["WebFetch"] {
		t.Fatalf("aggressive selection kept ambiguous tools: %v", got)
	}
	if !got["Read"] || !got["Edit"] {
		t.Fatalf("aggressive selection dropped core tools: %v", got)
	}
}

func TestSelect_ConservativeAddsRead(t *testing.T) {
	sel := Select(ClassTechnical, Catalog()[3:], SelectionConfig{Mode: ModeConservative})
	found := false
	for _, tl := range sel {
		if tl.Name == "Read" {
			found = true
		}
	}
	if !found {
		t.Fatalf("conservative selection must include the safety tool: %+v", sel)
	}
}

func TestSelect_ProviderCap(t *testing.T) {
	got := selectedNames(ClassEntireCodebase, SelectionConfig{MaxTools: 3})
	if len(got) != 3 {
		t.Fatalf("cap not applied: %v", got)
	}
	// Trimming is from the tail: the head of the catalog survives.
	if got[0] != "Read" {
		t.Fatalf("cap trimmed the wrong end: %v", got)
	}
}

func TestSelect_TokenBudgetTrimsTail(t *testing.T) {
	full := Select(ClassEntireCodebase, Catalog(), SelectionConfig{})
	if len(full) < 3 {
		t.Fatal("catalog unexpectedly small")
	}

	// Budget for exactly the first two tools.
	budget := EstimateSchemaTokens(full[0]) + EstimateSchemaTokens(full[1])
	got := Select(ClassEntireCodebase, Catalog(), SelectionConfig{TokenBudget: budget})
	if len(got) != 2 {
		t.Fatalf("expected 2 tools within budget %d, got %d", budget, len(got))
	}
	if got[0].Name != full[0].Name || got[1].Name != full[1].Name {
		t.Fatalf("budget guard must trim from the tail: %+v", got)
	}
}

func TestEstimateSchemaTokens_Positive(t *testing.T) {
	for _, tl := range Catalog() {
		if EstimateSchemaTokens(tl) <= 0 {
			t.Errorf("%s: non-positive estimate", tl.Name)
		}
	}
}
