package cypher

import (
	"regexp"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("(?s)```(?:cypher|Cypher|CYPHER)?\\s*(.*?)```")
	prefixPattern = regexp.MustCompile(`(?i)^\s*(cypher query:|cypher:|query:)\s*`)
)

// ExtractQuery pulls the Cypher statement out of a model completion. Code
// fences win over surrounding prose; a leading "Cypher query:" label is dropped.
func ExtractQuery(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = prefixPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
