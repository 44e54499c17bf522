// Package tinylm is a deliberately small language model implementing the
// model.Model collaborator contract: a bigram logit table plus output bias.
// It exists so the training loop, evaluation engine and checkpoint manager
// can be exercised end to end without an external transformer backend.
package tinylm

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/djeday123/gotune/model"
)

// TinyLM predicts the next token from a per-token logit row.
// logits[t] = table[x[t]] + bias.
type TinyLM struct {
	cfg   model.Config
	table *model.Param // [vocab, vocab]
	bias  *model.Param // [vocab]

	rng      *rand.Rand
	training bool

	// caches for the backward passes
	fwdInputs  [][]int64
	fwdTargets [][]int64
	fwdLogits  [][][]float32
	genPrev    [][]int64 // token preceding each generated position
}

func init() {
	model.Register("tinylm", func(cfg model.Config) (model.Model, error) {
		return New(cfg)
	})
}

// New builds a TinyLM for the given architecture config. Only VocabSize and
// BlockSize are meaningful; the transformer dimensions are carried through
// for checkpoint fidelity.
func New(cfg model.Config) (*TinyLM, error) {
	if cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("tinylm: vocab size %d", cfg.VocabSize)
	}
	v := cfg.VocabSize
	table := &model.Param{
		Name:  "table",
		Shape: []int{v, v},
		Data:  make([]float32, v*v),
		Grad:  make([]float32, v*v),
	}
	bias := &model.Param{
		Name:  "bias",
		Shape: []int{v},
		Data:  make([]float32, v),
		Grad:  make([]float32, v),
	}
	rng := rand.New(rand.NewSource(1337))
	for i := range table.Data {
		table.Data[i] = float32(rng.NormFloat64() * 0.02)
	}
	return &TinyLM{cfg: cfg, table: table, bias: bias, rng: rng, training: true}, nil
}

// Forward runs the teacher-forced pass. targets may be nil.
func (m *TinyLM) Forward(inputs, targets [][]int64) (*model.ForwardResult, error) {
	logits := make([][][]float32, len(inputs))
	for b := range inputs {
		logits[b] = make([][]float32, len(inputs[b]))
		for s, tok := range inputs[b] {
			row, err := m.logitRow(tok)
			if err != nil {
				return nil, err
			}
			logits[b][s] = row
		}
	}

	res := &model.ForwardResult{Logits: logits}
	m.fwdInputs = inputs
	m.fwdLogits = logits
	m.fwdTargets = nil

	if targets != nil {
		loss, err := model.CrossEntropy(logits, targets, -1)
		if err != nil {
			return nil, err
		}
		res.Loss = loss
		res.HasLoss = true
		m.fwdTargets = targets
	}
	return res, nil
}

// Backward accumulates scale * dLoss/dParam from the last Forward with
// targets.
func (m *TinyLM) Backward(scale float64) error {
	if m.fwdTargets == nil {
		return fmt.Errorf("tinylm: Backward without a loss-bearing Forward")
	}
	dLogits, err := model.CrossEntropyGrad(m.fwdLogits, m.fwdTargets, -1)
	if err != nil {
		return err
	}
	for b := range m.fwdInputs {
		for s, tok := range m.fwdInputs[b] {
			m.accumulate(tok, dLogits[b][s], float32(scale))
		}
	}
	return nil
}

// Generate autoregressively extends every batch row by MaxNewTokens.
func (m *TinyLM) Generate(inputs [][]int64, opts model.GenerateOptions) (*model.GenerateResult, error) {
	if opts.MaxNewTokens <= 0 {
		return nil, fmt.Errorf("tinylm: MaxNewTokens %d", opts.MaxNewTokens)
	}
	temp := opts.Temperature
	if temp <= 0 {
		temp = 1.0
	}

	res := &model.GenerateResult{Output: make([][]int64, len(inputs))}
	if opts.WithLogits {
		res.Logits = make([][][]float32, len(inputs))
		m.genPrev = make([][]int64, len(inputs))
	}

	for b, ctx := range inputs {
		if len(ctx) == 0 {
			return nil, fmt.Errorf("tinylm: empty input row %d", b)
		}
		out := make([]int64, 0, opts.MaxNewTokens)
		last := ctx[len(ctx)-1]
		for i := 0; i < opts.MaxNewTokens; i++ {
			row, err := m.logitRow(last)
			if err != nil {
				return nil, err
			}
			if opts.WithLogits {
				res.Logits[b] = append(res.Logits[b], row)
				m.genPrev[b] = append(m.genPrev[b], last)
			}
			next := int64(sampleTopK(row, opts.TopK, temp, m.rng))
			out = append(out, next)
			last = next
		}
		res.Output[b] = out
	}
	return res, nil
}

// BackwardLogits accumulates gradients for the logits cached by the last
// Generate with WithLogits. The caller scales dLogits.
func (m *TinyLM) BackwardLogits(dLogits [][][]float32) error {
	if m.genPrev == nil {
		return fmt.Errorf("tinylm: BackwardLogits without Generate(WithLogits)")
	}
	if len(dLogits) != len(m.genPrev) {
		return fmt.Errorf("tinylm: %d gradient rows for %d cached rows", len(dLogits), len(m.genPrev))
	}
	for b := range dLogits {
		for s := range dLogits[b] {
			if s >= len(m.genPrev[b]) {
				return fmt.Errorf("tinylm: gradient position %d beyond cache", s)
			}
			m.accumulate(m.genPrev[b][s], dLogits[b][s], 1)
		}
	}
	return nil
}

// Params returns all trainable parameters.
func (m *TinyLM) Params() []*model.Param {
	return []*model.Param{m.table, m.bias}
}

// Config returns the architecture configuration.
func (m *TinyLM) Config() model.Config { return m.cfg }

// SetTraining toggles training mode. TinyLM has no dropout; the flag is
// kept so the scoped eval-mode switch is observable in tests.
func (m *TinyLM) SetTraining(training bool) { m.training = training }

// Training reports the current mode.
func (m *TinyLM) Training() bool { return m.training }

// EstimateMFU reports achieved flops against a nominal 1 TFLOP/s peak.
func (m *TinyLM) EstimateMFU(batchEffective int, dt time.Duration) float64 {
	const peakFlops = 1e12
	params := float64(m.table.NumElements() + m.bias.NumElements())
	flops := 2 * params * float64(batchEffective) * float64(m.cfg.BlockSize)
	achieved := flops / dt.Seconds()
	return achieved / peakFlops
}

// CropBlockSize shrinks position capacity. TinyLM has no position table,
// so only the reported config changes.
func (m *TinyLM) CropBlockSize(n int) error {
	if n <= 0 || n > m.cfg.BlockSize {
		return fmt.Errorf("tinylm: cannot crop block size %d to %d", m.cfg.BlockSize, n)
	}
	m.cfg.BlockSize = n
	return nil
}

// ExtendBlockSize grows position capacity.
func (m *TinyLM) ExtendBlockSize(n int) error {
	if n < m.cfg.BlockSize {
		return fmt.Errorf("tinylm: cannot extend block size %d to %d", m.cfg.BlockSize, n)
	}
	m.cfg.BlockSize = n
	return nil
}

func (m *TinyLM) logitRow(tok int64) ([]float32, error) {
	v := m.cfg.VocabSize
	if tok < 0 || int(tok) >= v {
		return nil, fmt.Errorf("tinylm: token %d outside vocab %d", tok, v)
	}
	row := make([]float32, v)
	base := int(tok) * v
	for i := 0; i < v; i++ {
		row[i] = m.table.Data[base+i] + m.bias.Data[i]
	}
	return row, nil
}

func (m *TinyLM) accumulate(tok int64, dRow []float32, scale float32) {
	base := int(tok) * m.cfg.VocabSize
	for i, g := range dRow {
		m.table.Grad[base+i] += g * scale
		m.bias.Grad[i] += g * scale
	}
}
