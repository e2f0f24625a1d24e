package accessor

import (
	"github.com/WebHare/platform-sub003/internal/entities"
)

// UnknownField reports a field name that matches no attribute, suggesting the
// closest candidate when there is a plausible one
func UnknownField(path, name string, candidates []string) error {
	if best := Suggest(name, candidates); best != "" {
		return entities.Internalf("unknown field %q, did you mean %q?", path, best)
	}
	return entities.Internalf("unknown field %q", path)
}

// Suggest returns the candidate closest to name by edit distance, or "" when
// every candidate needs more edits than half the length of name
func Suggest(name string, candidates []string) string {
	best, bestDist := "", len([]rune(name))/2+1
	for _, c := range candidates {
		if d := editDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
