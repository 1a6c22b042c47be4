package memory

import (
	"regexp"
	"strings"
)

// Candidate is a fragment worth remembering, before surprise gating.
type Candidate struct {
	Type    string
	Content string
}

// extractors pair each memory type with the phrasings that signal it.
// Checked in order; a sentence contributes at most one candidate per type.
var extractors = []struct {
	memType  string
	patterns []*regexp.Regexp
}{
	{TypePreference, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:I|we|you|the team) (?:prefer|like|favor|always use|usually use)s?\s+(.{3,120})`),
		regexp.MustCompile(`(?i)\bstick (?:with|to)\s+(.{3,120})`),
	}},
	{TypeDecision, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\blet'?s (?:use|go with|adopt)\s+(.{3,120})`),
		regexp.MustCompile(`(?i)\bwe (?:will|should|decided to|are going to) (?:use|adopt|switch to)\s+(.{3,120})`),
		regexp.MustCompile(`(?i)\bgoing with\s+(.{3,120})`),
	}},
	{TypeFact, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:note that|keep in mind that|remember that|it turns out that?)\s+(.{3,150})`),
		regexp.MustCompile(`(?i)\bthe (?:default|limit|maximum|minimum) (?:is|was)\s+(.{2,100})`),
	}},
	{TypeEntity, []*regexp.Regexp{
		regexp.MustCompile(`\b([A-Z][A-Za-z0-9_.-]{2,40} is (?:a|an|the) [^.!?\n]{3,100})`),
	}},
	{TypeRelationship, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\w[\w.-]{1,40} (?:depends on|belongs to|is part of|talks to|calls|uses) [^.!?\n]{2,100})`),
	}},
}

// Extract scans assistant text for memorable fragments. Text with no
// pattern matches yields nothing.
func Extract(text string) []Candidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []Candidate
	seen := make(map[string]bool)

	for _, ex := range extractors {
		for _, p := range ex.patterns {
			for _, m := range p.FindAllStringSubmatch(text, -1) {
				if len(m) < 2 {
					continue
				}
				content := trimFragment(m[1])
				if content == "" {
					continue
				}
				key := ex.memType + "\x00" + normalizeText(content)
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, Candidate{Type: ex.memType, Content: content})
			}
		}
	}
	return out
}

// trimFragment cuts a captured fragment at the sentence boundary and
// drops leftovers too short to mean anything.
func trimFragment(s string) string {
	if idx := strings.IndexAny(s, ".!?\n"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return ""
	}
	return s
}

// normalizeText lowercases and collapses whitespace for dedup comparison.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
