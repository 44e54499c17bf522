// Package eval runs periodic evaluation cycles: averaged metric reports
// per split plus one qualitative sample drawn from a fixed window.
package eval

import (
	"fmt"

	"github.com/djeday123/gotune/data"
	"github.com/djeday123/gotune/metrics"
	"github.com/djeday123/gotune/model"
	"github.com/djeday123/gotune/tokenizer"
)

// Sample is the qualitative (target, output) pair logged and exported
// alongside the scalar reports.
type Sample struct {
	Target string
	Output string
}

// Result is one evaluation cycle: mean reports over both splits and the
// display sample. The display draw is never part of the averages.
type Result struct {
	Train  metrics.Report
	Val    metrics.Report
	Sample Sample
}

// Engine evaluates a model against a sampler's splits. Conditional
// selects the generation-based path: free-running decode of the target
// continuation, scored with BLEU and ROUGE only. The teacher-forced path
// additionally reports loss and perplexity.
type Engine struct {
	Model       model.Model
	Sampler     *data.Sampler
	Tok         tokenizer.Tokenizer
	Conditional bool
	EvalIters   int
	Temperature float64
	TopK        int
}

// Evaluate runs EvalIters mini-evaluations on each split and one display
// draw from the validation split. The model is switched to inference mode
// for the duration and back to training mode on return.
func (e *Engine) Evaluate() (*Result, error) {
	e.Model.SetTraining(false)
	defer e.Model.SetTraining(true)

	res := &Result{}
	var err error
	if res.Train, err = e.splitReport(data.Train); err != nil {
		return nil, err
	}
	if res.Val, err = e.splitReport(data.Val); err != nil {
		return nil, err
	}
	if res.Sample, err = e.displaySample(); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) splitReport(split data.Split) (metrics.Report, error) {
	var acc metrics.Accumulator
	for i := 0; i < e.EvalIters; i++ {
		batch, err := e.Sampler.Sample(split, false)
		if err != nil {
			return metrics.Report{}, fmt.Errorf("eval: %s draw %d: %w", split, i, err)
		}
		r, _, err := e.scoreBatch(batch)
		if err != nil {
			return metrics.Report{}, fmt.Errorf("eval: %s draw %d: %w", split, i, err)
		}
		acc.Add(r)
	}
	return acc.Mean(), nil
}

// displaySample re-runs scoring on the fixed validation window and keeps
// only the decoded pair.
func (e *Engine) displaySample() (Sample, error) {
	batch, err := e.Sampler.Sample(data.Val, true)
	if err != nil {
		return Sample{}, fmt.Errorf("eval: display draw: %w", err)
	}
	_, output, err := e.scoreBatch(batch)
	if err != nil {
		return Sample{}, fmt.Errorf("eval: display draw: %w", err)
	}
	return Sample{Target: batch.Reference, Output: output}, nil
}

// scoreBatch produces the batch's report and the decoded output for the
// batch's reference example.
func (e *Engine) scoreBatch(batch *data.Batch) (metrics.Report, string, error) {
	if e.Conditional {
		return e.scoreGenerated(batch)
	}
	return e.scoreTeacherForced(batch)
}

// scoreTeacherForced runs a loss-bearing forward pass and scores the
// argmax decode of the reference row against its target text.
func (e *Engine) scoreTeacherForced(batch *data.Batch) (metrics.Report, string, error) {
	fwd, err := e.Model.Forward(batch.Inputs, batch.Targets)
	if err != nil {
		return metrics.Report{}, "", err
	}
	if !fwd.HasLoss {
		return metrics.Report{}, "", fmt.Errorf("eval: forward pass produced no loss")
	}

	output := e.decodeArgmax(fwd.Logits[0])
	r := metrics.Report{
		Loss:       fwd.Loss,
		Perplexity: metrics.Perplexity(fwd.Loss),
		BLEU:       metrics.BLEU(output, batch.Reference, 3),
	}
	rouge := metrics.Rouge(output, batch.Reference)
	r.Rouge1, r.Rouge2, r.RougeL = rouge.Rouge1, rouge.Rouge2, rouge.RougeL
	return r, output, nil
}

// scoreGenerated decodes a free-running continuation as long as the padded
// target and scores it against the reference. Loss and perplexity stay
// zero on this path.
func (e *Engine) scoreGenerated(batch *data.Batch) (metrics.Report, string, error) {
	gen, err := e.Model.Generate(batch.Inputs, model.GenerateOptions{
		MaxNewTokens: len(batch.Targets[0]),
		Temperature:  e.Temperature,
		TopK:         e.TopK,
	})
	if err != nil {
		return metrics.Report{}, "", err
	}

	output := e.Tok.Decode(tokenizer.StripPad(gen.Output[0], e.Tok.PadID()))
	r := metrics.Report{
		BLEU: metrics.BLEU(output, batch.Reference, 3),
	}
	rouge := metrics.Rouge(output, batch.Reference)
	r.Rouge1, r.Rouge2, r.RougeL = rouge.Rouge1, rouge.Rouge2, rouge.RougeL
	return r, output, nil
}

// decodeArgmax greedily decodes one row of logits to text.
func (e *Engine) decodeArgmax(logits [][]float32) string {
	tokens := make([]int64, len(logits))
	for t, dist := range logits {
		best := 0
		for v := 1; v < len(dist); v++ {
			if dist[v] > dist[best] {
				best = v
			}
		}
		tokens[t] = int64(best)
	}
	return e.Tok.Decode(tokenizer.StripPad(tokens, e.Tok.PadID()))
}
