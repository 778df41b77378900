// Package assess implements the reading-assessment alignment engine.
//
// Given a reference text and a transcript of what a learner read aloud, the
// engine tokenizes both, aligns them with a greedy two-pointer walk that
// explains insertions, omissions and near misses, and scores the attempt as
// the fraction of reference words read correctly.
//
// Everything in this package is pure and safe for concurrent use.
package assess

import (
	"strings"
	"unicode"
)

// Token is a single whitespace-delimited word. Display keeps the surface form
// for rendering; Norm is the lowercased form with everything except letters,
// numbers and apostrophes removed, used for comparison.
type Token struct {
	Display string `json:"display"`
	Norm    string `json:"norm"`
}

// Tokenize splits text on runs of whitespace and normalizes every fragment.
// Order is preserved and nothing is merged or dropped: a fragment made only of
// punctuation becomes a token with an empty Norm.
func Tokenize(text string) []Token {
	fields := strings.Fields(text)
	tokens := make([]Token, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, Token{Display: f, Norm: normWord(f)})
	}
	return tokens
}

func normWord(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if keepRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func keepRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '\''
}

// NormalizeAll flattens text into a comparison string: lowercase, every rune
// that is not a letter, number, whitespace or apostrophe replaced by a space,
// whitespace runs collapsed to a single space, and the result trimmed.
func NormalizeAll(text string) string {
	mapped := strings.Map(func(r rune) rune {
		if keepRune(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, strings.ToLower(text))
	return strings.Join(strings.Fields(mapped), " ")
}
