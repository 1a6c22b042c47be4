package memory

import (
	"strings"
	"testing"
)

func TestExtract_NoPatternsNoMemories(t *testing.T) {
	texts := []string{
		"",
		"The weather looks fine today.",
		"4",
	}
	for _, text := range texts {
		if got := Extract(text); len(got) != 0 {
			t.Errorf("%q: expected no candidates, got %+v", text, got)
		}
	}
}

func TestExtract_Decision(t *testing.T) {
	got := Extract("Let's use TypeScript for the API layer. It fits the team.")
	if len(got) == 0 {
		t.Fatal("expected a decision candidate")
	}
	found := false
	for _, c := range got {
		if c.Type == TypeDecision && strings.Contains(c.Content, "TypeScript for the API layer") {
			found = true
		}
	}
	if !found {
		t.Fatalf("decision not extracted: %+v", got)
	}
}

func TestExtract_Preference(t *testing.T) {
	got := Extract("I prefer tabs over spaces for this repo.")
	if len(got) != 1 || got[0].Type != TypePreference {
		t.Fatalf("got %+v", got)
	}
	if !strings.Contains(got[0].Content, "tabs over spaces") {
		t.Fatalf("bad content: %q", got[0].Content)
	}
}

func TestExtract_FactStopsAtSentence(t *testing.T) {
	got := Extract("Note that the pool caps at 50 sockets. Unrelated trailing text.")
	if len(got) == 0 {
		t.Fatal("expected a fact candidate")
	}
	if strings.Contains(got[0].Content, "Unrelated") {
		t.Fatalf("fragment crossed sentence boundary: %q", got[0].Content)
	}
}

func TestExtract_EntityAndRelationship(t *testing.T) {
	got := Extract("Redis is a cache used by the session service. The dispatcher depends on the breaker registry.")
	var haveEntity, haveRel bool
	for _, c := range got {
		switch c.Type {
		case TypeEntity:
			haveEntity = true
		case TypeRelationship:
			haveRel = true
		}
	}
	if !haveEntity || !haveRel {
		t.Fatalf("entity=%v relationship=%v from %+v", haveEntity, haveRel, got)
	}
}

func TestExtract_DeduplicatesWithinText(t *testing.T) {
	got := Extract("Let's use Redis. As I said, let's use Redis.")
	count := 0
	for _, c := range got {
		if c.Type == TypeDecision {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one decision, got %d: %+v", count, got)
	}
}
