package index

import (
	"regexp"
	"strings"
)

var nonFTSChar = regexp.MustCompile(`[^\w\s-]`)

// sanitizeQuery strips everything but word characters, whitespace, and
// hyphens, then collapses runs of whitespace (§4.4 mode 1).
func sanitizeQuery(query string) string {
	stripped := nonFTSChar.ReplaceAllString(query, " ")
	return strings.Join(strings.Fields(stripped), " ")
}

// buildFTSExpr turns a raw query into an FTS5 MATCH expression: a single
// word becomes a prefix match, multiple words become a phrase-or-words
// expression, and an empty sanitized query yields "" (no matches, §4.4).
func buildFTSExpr(query string) string {
	clean := sanitizeQuery(query)
	if clean == "" {
		return ""
	}
	words := strings.Fields(clean)
	if len(words) == 1 {
		return `"` + words[0] + `"*`
	}
	var ors []string
	for _, w := range words {
		ors = append(ors, `"`+w+`"`)
	}
	return `("` + clean + `") OR (` + strings.Join(ors, " OR ") + `)`
}

// matchContext returns a ~100-character window of text centered on the
// first occurrence of any query word, or "" if none is found (§4.4).
func matchContext(text, query string) string {
	words := strings.Fields(sanitizeQuery(query))
	if len(words) == 0 {
		return ""
	}
	lower := strings.ToLower(text)
	idx := -1
	for _, w := range words {
		if i := strings.Index(lower, strings.ToLower(w)); i >= 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ""
	}
	start := idx - 45
	if start < 0 {
		start = 0
	}
	end := idx + 55
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}

// stopWords excluded from related-message keyword extraction (§4.4).
var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "your": true, "about": true, "into": true, "more": true,
	"also": true, "than": true, "when": true, "what": true, "been": true,
	"were": true, "they": true, "their": true, "there": true, "which": true,
	"would": true, "could": true, "should": true, "these": true, "those": true,
	"some": true, "such": true, "each": true, "does": true, "done": true,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// extractKeywords lowercases text, strips non-alphanumerics, and keeps
// distinct words longer than 3 characters that aren't stop words (§4.4
// related()).
func extractKeywords(text string) []string {
	clean := nonAlnum.ReplaceAllString(strings.ToLower(text), " ")
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.Fields(clean) {
		if len(w) <= 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
