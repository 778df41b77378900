package assess

import "unicode/utf8"

// Levenshtein returns the edit distance between a and b counting single-rune
// insertions, deletions and substitutions. It keeps one rolling row of the
// dynamic-programming table, sized by the shorter input. It is hand-written
// rather than delegated to matchr.Levenshtein so the per-pair allocation stays
// bounded by one row; the tests use matchr as a reference.
func Levenshtein(a, b string) int {
	if a == "" {
		return utf8.RuneCountInString(b)
	}
	if b == "" {
		return utf8.RuneCountInString(a)
	}

	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}

	row := make([]int, len(rb)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		diag := row[0]
		row[0] = i
		for j := 1; j <= len(rb); j++ {
			above := row[j]
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			row[j] = min(above+1, row[j-1]+1, diag+cost)
			diag = above
		}
	}
	return row[len(rb)]
}

// Similarity maps the edit distance between a and b onto [0,1], where 1 means
// identical. Two empty strings are identical.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b), 1)
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}
