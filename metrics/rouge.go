package metrics

import "strings"

// RougeScores holds ROUGE-1, ROUGE-2 and ROUGE-L f-measures.
type RougeScores struct {
	Rouge1 float64
	Rouge2 float64
	RougeL float64
}

// Rouge scores candidate against reference over whitespace tokens:
// ROUGE-1/2 are n-gram overlap f-measures, ROUGE-L is the longest common
// subsequence f-measure.
func Rouge(candidate, reference string) RougeScores {
	cand := strings.Fields(candidate)
	ref := strings.Fields(reference)
	return RougeScores{
		Rouge1: ngramFMeasure(cand, ref, 1),
		Rouge2: ngramFMeasure(cand, ref, 2),
		RougeL: lcsFMeasure(cand, ref),
	}
}

func ngramFMeasure(cand, ref []string, n int) float64 {
	candGrams := ngramCounts(cand, n)
	refGrams := ngramCounts(ref, n)

	candTotal := 0
	for _, c := range candGrams {
		candTotal += c
	}
	refTotal := 0
	for _, c := range refGrams {
		refTotal += c
	}
	if candTotal == 0 || refTotal == 0 {
		return 0
	}

	overlap := 0
	for gram, count := range candGrams {
		if refCount, ok := refGrams[gram]; ok {
			if count < refCount {
				overlap += count
			} else {
				overlap += refCount
			}
		}
	}

	precision := float64(overlap) / float64(candTotal)
	recall := float64(overlap) / float64(refTotal)
	return fMeasure(precision, recall)
}

func lcsFMeasure(cand, ref []string) float64 {
	if len(cand) == 0 || len(ref) == 0 {
		return 0
	}
	lcs := lcsLength(cand, ref)
	precision := float64(lcs) / float64(len(cand))
	recall := float64(lcs) / float64(len(ref))
	return fMeasure(precision, recall)
}

// lcsLength computes the longest common subsequence length with a rolling
// single-row table.
func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func fMeasure(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}
