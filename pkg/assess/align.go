package assess

import (
	"github.com/antzucaro/matchr"
)

// DefaultFuzzyThreshold is the minimum [Similarity] at which a spoken word is
// accepted as a mispronunciation of the expected word rather than a miss.
const DefaultFuzzyThreshold = 0.75

// Kind classifies one expected word after alignment.
type Kind string

const (
	// KindOK means the word was read correctly.
	KindOK Kind = "ok"

	// KindMissing means the word was skipped or the spoken word was too far
	// off to count as an attempt.
	KindMissing Kind = "missing"

	// KindMismatch means the word was attempted but not read correctly: either
	// a near miss or the word right after an inserted extra word.
	KindMismatch Kind = "mismatch"
)

// ClassifiedToken is one expected word with its classification. The sequence
// of classified tokens always mirrors the reference text: spoken-only extra
// words are consumed during alignment but never appear in the output.
type ClassifiedToken struct {
	// Text is the expected word's display form.
	Text string `json:"text"`

	// Type is the classification.
	Type Kind `json:"type"`

	// Heard is the spoken fragment consumed for this word. Empty for
	// [KindMissing]. For an insertion it holds the extra word and the match.
	Heard string `json:"heard,omitempty"`

	// Similarity is the normalized similarity of the compared words: 1 for
	// matches, the fuzzy score for near misses and 0 for misses.
	Similarity float64 `json:"similarity"`

	// SoundsAlike is set on near misses whose words share a Double Metaphone
	// code. It is a feedback hint and never affects the score.
	SoundsAlike bool `json:"soundsAlike,omitempty"`
}

// Result is the outcome of one scored read-aloud attempt.
type Result struct {
	// Score is the fraction of expected words classified [KindOK], in [0,1].
	// It is 0 when the expected text has no words.
	Score float64 `json:"score"`

	// Tokens has exactly one entry per expected token, in order.
	Tokens []ClassifiedToken `json:"tokens"`

	// Verbatim reports that every expected word was read correctly and no
	// spoken word was left over. It implies a Score of 1.
	Verbatim bool `json:"verbatim"`
}

// Counts tallies the tokens of r per [Kind].
func (r Result) Counts() (ok, missing, mismatch int) {
	for _, t := range r.Tokens {
		switch t.Type {
		case KindOK:
			ok++
		case KindMissing:
			missing++
		case KindMismatch:
			mismatch++
		}
	}
	return ok, missing, mismatch
}

// Option configures an [Aligner].
type Option func(*Aligner)

// WithFuzzyThreshold overrides [DefaultFuzzyThreshold]. Values outside (0,1]
// are ignored.
func WithFuzzyThreshold(threshold float64) Option {
	return func(a *Aligner) {
		if threshold > 0 && threshold <= 1 {
			a.fuzzyThreshold = threshold
		}
	}
}

// Aligner aligns spoken transcripts against reference texts. The zero value
// is not usable; construct one with [NewAligner]. An Aligner is read-only
// after construction and safe for concurrent use.
type Aligner struct {
	fuzzyThreshold float64
}

// NewAligner returns an [Aligner] configured with opts.
func NewAligner(opts ...Option) *Aligner {
	a := &Aligner{fuzzyThreshold: DefaultFuzzyThreshold}
	for _, o := range opts {
		o(a)
	}
	return a
}

// FuzzyThreshold returns the near-miss threshold in use.
func (a *Aligner) FuzzyThreshold() float64 {
	return a.fuzzyThreshold
}

var defaultAligner = NewAligner()

// Align aligns spoken against expected using the default [Aligner].
func Align(expected, spoken string) Result {
	return defaultAligner.Align(expected, spoken)
}

// Align walks expected and spoken tokens with two pointers. At every step the
// first applicable rule wins:
//
//  1. exact match: ok, advance both.
//  2. the spoken word after the current one matches: the current spoken word
//     is an insertion; mismatch, skip both spoken words.
//  3. the next expected word matches the current spoken word: the current
//     expected word was skipped; missing, retry the spoken word.
//  4. similarity at or above the fuzzy threshold: mismatch, advance both.
//  5. otherwise: missing, retry the spoken word against the next expected one.
//
// Trailing spoken words are discarded and trailing expected words are missing.
// Only a single token of lookahead is used, so this is a greedy heuristic and
// not an optimal sequence alignment.
func (a *Aligner) Align(expected, spoken string) Result {
	exp := Tokenize(expected)
	spk := Tokenize(spoken)

	out := make([]ClassifiedToken, 0, len(exp))
	okCount := 0

	i, j := 0, 0
	for i < len(exp) || j < len(spk) {
		if i >= len(exp) {
			j++
			continue
		}
		e := exp[i]
		if j >= len(spk) {
			out = append(out, ClassifiedToken{Text: e.Display, Type: KindMissing})
			i++
			continue
		}
		s := spk[j]

		switch {
		case e.Norm == s.Norm:
			out = append(out, ClassifiedToken{Text: e.Display, Type: KindOK, Heard: s.Display, Similarity: 1})
			okCount++
			i++
			j++

		case j+1 < len(spk) && e.Norm == spk[j+1].Norm:
			out = append(out, ClassifiedToken{
				Text:       e.Display,
				Type:       KindMismatch,
				Heard:      s.Display + " " + spk[j+1].Display,
				Similarity: 1,
			})
			i++
			j += 2

		case i+1 < len(exp) && exp[i+1].Norm == s.Norm:
			out = append(out, ClassifiedToken{Text: e.Display, Type: KindMissing})
			i++

		default:
			sim := Similarity(e.Norm, s.Norm)
			if sim >= a.fuzzyThreshold {
				out = append(out, ClassifiedToken{
					Text:        e.Display,
					Type:        KindMismatch,
					Heard:       s.Display,
					Similarity:  sim,
					SoundsAlike: soundsAlike(e.Norm, s.Norm),
				})
				i++
				j++
				continue
			}
			out = append(out, ClassifiedToken{Text: e.Display, Type: KindMissing})
			i++
		}
	}

	res := Result{Tokens: out}
	if len(exp) > 0 {
		res.Score = float64(okCount) / float64(len(exp))
		res.Verbatim = okCount == len(exp) && len(spk) == len(exp)
	}
	return res
}

// soundsAlike reports whether a and b share a primary or secondary Double
// Metaphone code.
func soundsAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
