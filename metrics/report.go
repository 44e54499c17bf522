// Package metrics scores generated text against references and aggregates
// per-iteration results into per-split reports.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Report is the fixed set of per-split scalars produced by an evaluation
// cycle. Loss and Perplexity are meaningful only on the teacher-forced
// language-modeling path.
type Report struct {
	Loss       float64
	Perplexity float64
	BLEU       float64
	Rouge1     float64
	Rouge2     float64
	RougeL     float64
}

// Perplexity is exp(loss).
func Perplexity(loss float64) float64 {
	return math.Exp(loss)
}

// Accumulator collects one Report per mini-evaluation and reduces them to
// an arithmetic-mean Report.
type Accumulator struct {
	loss, perp, bleu, r1, r2, rl []float64
}

// Add records one mini-evaluation.
func (a *Accumulator) Add(r Report) {
	a.loss = append(a.loss, r.Loss)
	a.perp = append(a.perp, r.Perplexity)
	a.bleu = append(a.bleu, r.BLEU)
	a.r1 = append(a.r1, r.Rouge1)
	a.r2 = append(a.r2, r.Rouge2)
	a.rl = append(a.rl, r.RougeL)
}

// Mean reduces the accumulated reports field by field.
func (a *Accumulator) Mean() Report {
	if len(a.loss) == 0 {
		return Report{}
	}
	return Report{
		Loss:       stat.Mean(a.loss, nil),
		Perplexity: stat.Mean(a.perp, nil),
		BLEU:       stat.Mean(a.bleu, nil),
		Rouge1:     stat.Mean(a.r1, nil),
		Rouge2:     stat.Mean(a.r2, nil),
		RougeL:     stat.Mean(a.rl, nil),
	}
}

// Count returns how many mini-evaluations were accumulated.
func (a *Accumulator) Count() int { return len(a.loss) }
