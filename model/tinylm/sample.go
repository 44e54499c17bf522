package tinylm

import (
	"math"
	"math/rand"
)

// sampleTopK samples from the top-k logits with temperature.
// k <= 0 means no truncation.
func sampleTopK(logits []float32, k int, temperature float64, rng *rand.Rand) int {
	n := len(logits)
	if k <= 0 || k > n {
		k = n
	}

	type indexVal struct {
		idx int
		val float64
	}
	items := make([]indexVal, n)
	for i, v := range logits {
		items[i] = indexVal{i, float64(v) / temperature}
	}

	// Partial selection sort: top k by value.
	for i := 0; i < k; i++ {
		maxJ := i
		for j := i + 1; j < n; j++ {
			if items[j].val > items[maxJ].val {
				maxJ = j
			}
		}
		items[i], items[maxJ] = items[maxJ], items[i]
	}

	// Softmax over the top k.
	maxVal := items[0].val
	probs := make([]float64, k)
	sumExp := float64(0)
	for i := 0; i < k; i++ {
		probs[i] = math.Exp(items[i].val - maxVal)
		sumExp += probs[i]
	}

	r := rng.Float64() * sumExp
	cumSum := float64(0)
	for i := 0; i < k; i++ {
		cumSum += probs[i]
		if r < cumSum {
			return items[i].idx
		}
	}
	return items[k-1].idx
}
