package memory

import (
	"regexp"
	"strings"
)

var (
	tagPattern = regexp.MustCompile(`<[^>]*>`)

	// FTS5 treats these as syntax; anything not alphanumeric, space, or
	// quote is stripped before the query is built.
	ftsPunct = regexp.MustCompile(`[^\p{L}\p{N}\s"]+`)

	booleanOp = regexp.MustCompile(`\b(AND|OR|NOT|NEAR)\b`)
)

// SanitizeQuery turns arbitrary user text into a query FTS5 will always
// accept: tags and reserved punctuation are stripped, embedded quotes are
// escaped by doubling, and the residue is phrase-wrapped unless the caller
// used explicit boolean operators. An empty residue yields "".
func SanitizeQuery(query string) string {
	s := tagPattern.ReplaceAllString(query, " ")
	hasBoolean := booleanOp.MatchString(s)
	s = ftsPunct.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" || strings.Trim(s, `" `) == "" {
		return ""
	}

	if hasBoolean {
		// The caller is writing FTS syntax; quote each non-operator term
		// so stray tokens cannot break the parser. An operator needs a
		// term on both sides, otherwise it is demoted to a plain term.
		toks := strings.Fields(s)
		var parts []string
		isOp := make([]bool, 0, len(toks))
		for _, tok := range toks {
			if booleanOp.MatchString(tok) {
				parts = append(parts, tok)
				isOp = append(isOp, true)
				continue
			}
			tok = strings.ReplaceAll(tok, `"`, `""`)
			if strings.Trim(tok, `"`) == "" {
				continue
			}
			parts = append(parts, `"`+tok+`"`)
			isOp = append(isOp, false)
		}
		for i := range parts {
			dangling := isOp[i] && (i == 0 || i == len(parts)-1 || isOp[i-1])
			if dangling {
				parts[i] = `"` + parts[i] + `"`
				isOp[i] = false
			}
		}
		if len(parts) == 0 {
			return ""
		}
		return strings.Join(parts, " ")
	}

	s = strings.ReplaceAll(s, `"`, `""`)
	if strings.Trim(s, `" `) == "" {
		return ""
	}
	return `"` + s + `"`
}
