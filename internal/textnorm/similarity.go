package textnorm

import (
	"strings"
)

// EditDistance is the Levenshtein distance between a and b in runes
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity maps the edit distance of a and b onto [0,1]
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(EditDistance(a, b))/float64(longest)
}

// TokenOverlap is the number of distinct tokens a and b share, relative to
// the larger of the two token sets
func TokenOverlap(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	common := 0
	for t := range sa {
		if sb[t] {
			common++
		}
	}
	return float64(common) / float64(max(len(sa), len(sb)))
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, t := range strings.Fields(s) {
		set[t] = true
	}
	return set
}

// Thresholds configure FuzzyEqual
type Thresholds struct {
	MaxEditDistance int
	MinTokenOverlap float64
	MinRunes        int
}

// DefaultThresholds: edit distance ≤ 2 on keys of at least five runes, or
// token overlap ≥ 0.8
var DefaultThresholds = Thresholds{MaxEditDistance: 2, MinTokenOverlap: 0.8, MinRunes: 5}

// FuzzyEqual compares two strings by phonetic key and returns the
// similarity when they are considered equivalent
func FuzzyEqual(a, b string, th Thresholds) (float64, bool) {
	return FuzzyEqualKeys(Key(a), Key(b), th)
}

// FuzzyEqualKeys is FuzzyEqual over precomputed keys
func FuzzyEqualKeys(ka, kb string, th Thresholds) (float64, bool) {
	if ka == "" || kb == "" {
		return 0, false
	}
	if ka == kb {
		return 1, true
	}
	if min(len([]rune(ka)), len([]rune(kb))) >= th.MinRunes && EditDistance(ka, kb) <= th.MaxEditDistance {
		return Similarity(ka, kb), true
	}
	if ov := TokenOverlap(ka, kb); ov >= th.MinTokenOverlap {
		return ov, true
	}
	return 0, false
}

// ASCIIDigits rewrites Devanagari digits as ASCII digits
func ASCIIDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '०' && r <= '९' {
			r = '0' + (r - '०')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
