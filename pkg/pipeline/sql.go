package pipeline

import (
	"regexp"
	"strings"
)

var (
	fencedSQLRe = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	bareSQLRe   = regexp.MustCompile(`(?is)\b(SELECT|WITH)\b.*`)
)

// extractSQLCandidates pulls candidate statements out of a model response,
// fenced blocks first, then a bare SELECT/WITH tail as a last resort. Only
// read-only statements survive; anything else is dropped.
func extractSQLCandidates(text string) []string {
	var candidates []string
	seen := make(map[string]bool)

	add := func(stmt string) {
		stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
		if stmt == "" || !isReadOnly(stmt) || seen[stmt] {
			return
		}
		seen[stmt] = true
		candidates = append(candidates, stmt)
	}

	for _, m := range fencedSQLRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	if len(candidates) == 0 {
		if m := bareSQLRe.FindString(text); m != "" {
			// Cut at the first blank line so trailing prose is not swallowed.
			if idx := strings.Index(m, "\n\n"); idx > 0 {
				m = m[:idx]
			}
			add(m)
		}
	}
	return candidates
}

// isReadOnly accepts only SELECT and WITH statements.
func isReadOnly(stmt string) bool {
	upper := strings.ToUpper(strings.TrimSpace(stmt))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// stripSQL removes fenced SQL blocks from a model response, leaving the
// narrative text.
func stripSQL(text string) string {
	out := fencedSQLRe.ReplaceAllString(text, "")
	return strings.TrimSpace(out)
}
