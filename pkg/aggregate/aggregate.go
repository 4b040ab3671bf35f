// Package aggregate reduces batches of capability outputs to a single answer.
package aggregate

import "github.com/zen-systems/visroute/pkg/capability"

// Vote returns the most frequent sample. Ties go to the sample seen first in
// generation order. An empty batch yields "".
func Vote(samples []string) string {
	if len(samples) == 0 {
		return ""
	}

	counts := make(map[string]int, len(samples))
	for _, s := range samples {
		counts[s]++
	}

	winner := samples[0]
	best := counts[winner]
	for _, s := range samples[1:] {
		if counts[s] > best {
			winner = s
			best = counts[s]
		}
	}
	return winner
}

// VoteDetections picks the result whose box count is most common, breaking ties
// by first occurrence, and returns a copy of the first result with that count.
func VoteDetections(results []capability.DetectionResult) capability.DetectionResult {
	if len(results) == 0 {
		return capability.DetectionResult{}
	}

	counts := make(map[int]int, len(results))
	for _, r := range results {
		counts[len(r.Boxes)]++
	}

	winner := 0
	best := counts[len(results[0].Boxes)]
	for i, r := range results[1:] {
		if c := counts[len(r.Boxes)]; c > best {
			winner = i + 1
			best = c
		}
	}
	return results[winner].Clone()
}
