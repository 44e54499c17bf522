package model

import (
	"fmt"
	"math"
)

// CrossEntropy computes the mean cross-entropy between logits and targets.
// logits: [batch][seq][vocab], targets: [batch][seq].
// Target positions equal to ignoreID contribute nothing to the loss or the
// position count; pass a negative ignoreID to score every position.
func CrossEntropy(logits [][][]float32, targets [][]int64, ignoreID int64) (float64, error) {
	totalLoss := float64(0)
	count := 0

	for b := range logits {
		if b >= len(targets) {
			return 0, fmt.Errorf("loss: %d target rows for %d logit rows", len(targets), len(logits))
		}
		for s := range logits[b] {
			if s >= len(targets[b]) {
				continue
			}
			target := targets[b][s]
			if target == ignoreID {
				continue
			}
			row := logits[b][s]
			if int(target) < 0 || int(target) >= len(row) {
				return 0, fmt.Errorf("loss: target %d outside vocab %d", target, len(row))
			}
			totalLoss += logSumExp(row) - float64(row[target])
			count++
		}
	}

	if count == 0 {
		return 0, nil
	}
	return totalLoss / float64(count), nil
}

// CrossEntropyGrad computes the gradient of the mean cross-entropy w.r.t.
// the logits: softmax(logits) - one_hot(target), averaged over the scored
// position count. Positions whose target equals ignoreID get a zero row.
func CrossEntropyGrad(logits [][][]float32, targets [][]int64, ignoreID int64) ([][][]float32, error) {
	count := 0
	for b := range targets {
		for s := range targets[b] {
			if targets[b][s] != ignoreID {
				count++
			}
		}
	}

	grad := make([][][]float32, len(logits))
	for b := range logits {
		grad[b] = make([][]float32, len(logits[b]))
		for s := range logits[b] {
			row := logits[b][s]
			gRow := make([]float32, len(row))
			grad[b][s] = gRow

			if b >= len(targets) || s >= len(targets[b]) {
				continue
			}
			target := targets[b][s]
			if target == ignoreID {
				continue
			}
			if int(target) < 0 || int(target) >= len(row) {
				return nil, fmt.Errorf("loss: target %d outside vocab %d", target, len(row))
			}

			lse := logSumExp(row)
			inv := float32(1.0 / float64(count))
			for v := range row {
				p := float32(math.Exp(float64(row[v]) - lse))
				gRow[v] = p * inv
			}
			gRow[target] -= inv
		}
	}
	return grad, nil
}

// logSumExp computes log(sum(exp(x))) with max subtraction for stability.
func logSumExp(row []float32) float64 {
	maxVal := float64(-math.MaxFloat64)
	for _, v := range row {
		if float64(v) > maxVal {
			maxVal = float64(v)
		}
	}
	sumExp := float64(0)
	for _, v := range row {
		sumExp += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sumExp)
}
