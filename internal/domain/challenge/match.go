package challenge

import (
	"strconv"
	"strings"
	"unicode"
)

// fuzzyThreshold is the minimum Levenshtein similarity a security question
// answer must reach after normalization.
const fuzzyThreshold = 0.80

// Matches reports whether solution solves the challenge. Matching rules are
// per kind: math answers compare numerically, security questions tolerate
// typos and filler words, everything else compares case-insensitively after
// trimming. Malformed solutions are mismatches, never errors.
func (c *Challenge) Matches(solution string) bool {
	switch c.Kind {
	case KindMath:
		return matchNumeric(c.ExpectedAnswer, solution)
	case KindSecurityQuestion:
		return matchFuzzy(c.ExpectedAnswer, solution)
	default:
		return strings.EqualFold(strings.TrimSpace(solution), strings.TrimSpace(c.ExpectedAnswer))
	}
}

func matchNumeric(expected, got string) bool {
	want, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(expected))
	}
	have, err := strconv.ParseFloat(strings.TrimSpace(got), 64)
	if err != nil {
		return false
	}
	return want == have
}

// stopWords are filler tokens stripped before fuzzy comparison, so
// "the fluffy cat" and "fluffy cat" answer the same question.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "my": {}, "our": {}, "his": {}, "her": {},
	"it": {}, "its": {}, "is": {}, "was": {}, "in": {}, "on": {}, "at": {},
	"of": {}, "to": {}, "and": {},
}

func matchFuzzy(expected, got string) bool {
	want := normalizeAnswer(expected)
	have := normalizeAnswer(got)
	if want == "" || have == "" {
		return want == have && want != ""
	}
	if want == have {
		return true
	}
	if strings.Contains(want, have) || strings.Contains(have, want) {
		return true
	}
	return similarity(want, have) >= fuzzyThreshold
}

// normalizeAnswer lowercases, drops punctuation, and removes stop words.
func normalizeAnswer(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	kept := words[:0]
	for _, w := range words {
		if _, skip := stopWords[w]; !skip {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// similarity is 1 - editDistance/maxLen, so 1.0 means identical strings.
func similarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
