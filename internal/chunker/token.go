package chunker

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens gives a rough upper bound on the token count of text for
// sizing embedding requests. Inflected languages split into more sub-word
// tokens than English, so the larger of a word-based and a character-based
// estimate is used.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byWords := len(strings.Fields(text)) * 4 / 3
	byChars := utf8.RuneCountInString(text) / 3
	tokens := max(byWords, byChars)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
