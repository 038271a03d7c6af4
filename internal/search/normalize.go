package search

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	separatorRun = regexp.MustCompile(`[^a-z0-9_-]+`)
	digitSplit   = regexp.MustCompile(`[0-9]+|[^0-9]+`)
)

// Normalize turns a display name or a query into lowercase ASCII tokens.
//
// Accents are stripped through NFKD decomposition, any run of characters
// outside [a-z0-9_-] separates tokens, and digit runs are split from
// adjacent letters, so "Été_2024.MOV" yields ["ete_", "2024", "mov"].
// Scripts without a Latin decomposition produce no tokens.
func Normalize(s string) []string {
	folded := foldAccents(strings.ToLower(s))
	fields := strings.Fields(separatorRun.ReplaceAllString(folded, " "))

	var tokens []string
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		for _, part := range digitSplit.FindAllString(f, -1) {
			if !seen[part] {
				seen[part] = true
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
