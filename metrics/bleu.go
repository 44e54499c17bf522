package metrics

import (
	"math"
	"strings"
)

// BLEU computes the sentence BLEU score of candidate against reference
// with uniform weights over 1..maxN gram precisions and a brevity penalty.
// Tokens are whitespace-separated. Returns 0 when any n-gram precision is
// zero, matching the geometric-mean convention.
func BLEU(candidate, reference string, maxN int) float64 {
	cand := strings.Fields(candidate)
	ref := strings.Fields(reference)
	if len(cand) == 0 || len(ref) == 0 {
		return 0
	}

	logSum := float64(0)
	for n := 1; n <= maxN; n++ {
		matched, total := clippedMatches(cand, ref, n)
		if total == 0 || matched == 0 {
			return 0
		}
		logSum += math.Log(float64(matched) / float64(total))
	}
	precision := math.Exp(logSum / float64(maxN))

	// Brevity penalty for candidates shorter than the reference.
	bp := 1.0
	if len(cand) < len(ref) {
		bp = math.Exp(1.0 - float64(len(ref))/float64(len(cand)))
	}
	return bp * precision
}

// clippedMatches counts candidate n-grams matched in the reference, each
// reference n-gram usable at most as many times as it occurs.
func clippedMatches(cand, ref []string, n int) (matched, total int) {
	candGrams := ngramCounts(cand, n)
	refGrams := ngramCounts(ref, n)
	for gram, count := range candGrams {
		total += count
		if refCount, ok := refGrams[gram]; ok {
			if count < refCount {
				matched += count
			} else {
				matched += refCount
			}
		}
	}
	return matched, total
}

func ngramCounts(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return counts
}
