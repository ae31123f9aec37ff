package index

import (
	"strings"
	"unicode"
)

// TokenizeTitle splits a title into keyword tokens for the title-keyword
// index field: split on anything that is not a letter or digit, lower-case,
// drop single-rune tokens, and de-duplicate while keeping first-seen order.
// Splitting on rune class rather than ASCII punctuation keeps Korean
// titles intact.
func TokenizeTitle(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if len([]rune(word)) < 2 {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		tokens = append(tokens, word)
	}
	return tokens
}
