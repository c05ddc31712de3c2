package dedup

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity is 1 - editDistance/maxLen over runes, case-insensitive.
// Two empty strings are identical (1); one empty string scores 0.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 && lb == 0 {
		return 1
	}
	if la == 0 || lb == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(max(la, lb))
}

// IsDuplicate reports whether candidate restates existing.
// Reuse of the exact same non-empty sequence of numbers is checked first and
// always counts as a duplicate; otherwise normalized similarity must reach threshold.
func IsDuplicate(existing, candidate string, threshold float64) bool {
	if sameNumbers(Numbers(existing), Numbers(candidate)) {
		return true
	}
	return Similarity(Normalize(existing), Normalize(candidate)) >= threshold
}

func sameNumbers(a, b []string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
