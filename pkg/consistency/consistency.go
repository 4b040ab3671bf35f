// Package consistency measures agreement among repeated answer samples.
package consistency

import "strings"

// Score returns the mean pairwise token-overlap similarity of samples, in [0, 1].
// Batches with fewer than two samples score 1.0 since no disagreement is observable.
func Score(samples []string) float64 {
	n := len(samples)
	if n < 2 {
		return 1.0
	}

	sets := make([]map[string]struct{}, n)
	for i, s := range samples {
		sets[i] = Tokens(s)
	}

	var total float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			total += jaccard(sets[i], sets[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

// Similarity returns |A∩B| / max(|A∪B|, 1) over the token sets of a and b.
// Two empty strings have similarity 0.
func Similarity(a, b string) float64 {
	return jaccard(Tokens(a), Tokens(b))
}

// Tokens splits s on whitespace into a set of lowercase tokens.
func Tokens(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union < 1 {
		union = 1
	}
	return float64(inter) / float64(union)
}
