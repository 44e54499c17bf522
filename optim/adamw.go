package optim

import (
	"fmt"
	"math"

	"github.com/djeday123/gotune/model"
)

// AdamW implements the AdamW optimizer (decoupled weight decay).
// Weight decay is applied only to the decay parameter group; Configure
// splits parameters by rank the way GPT training conventionally does.
type AdamW struct {
	Params      []*model.Param
	LR          float64 // learning rate
	Beta1       float64 // first moment decay
	Beta2       float64 // second moment decay
	Eps         float64 // numerical stability
	WeightDecay float64 // decoupled L2, decay group only

	decay []bool      // per-param: belongs to the decay group
	m     [][]float32 // first moment
	v     [][]float32 // second moment
	step  int
}

// Configure builds an AdamW over the model's parameters with two groups:
// rank >= 2 parameters receive weight decay, rank < 2 (biases, norms) do
// not. This mirrors the collaborator's configure_optimizer contract.
func Configure(params []*model.Param, weightDecay, lr, beta1, beta2 float64) *AdamW {
	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	decay := make([]bool, len(params))
	for i, p := range params {
		n := p.NumElements()
		m[i] = make([]float32, n)
		v[i] = make([]float32, n)
		decay[i] = len(p.Shape) >= 2
	}
	return &AdamW{
		Params:      params,
		LR:          lr,
		Beta1:       beta1,
		Beta2:       beta2,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		decay:       decay,
		m:           m,
		v:           v,
	}
}

// Step performs one optimization step. Gradients must already be set on
// every parameter.
func (opt *AdamW) Step() {
	opt.step++

	bc1 := 1.0 - math.Pow(opt.Beta1, float64(opt.step))
	bc2 := 1.0 - math.Pow(opt.Beta2, float64(opt.step))

	for i, param := range opt.Params {
		m := opt.m[i]
		v := opt.v[i]
		wd := float32(0)
		if opt.decay[i] {
			wd = float32(opt.WeightDecay)
		}

		for j := range param.Data {
			g := param.Grad[j]

			m[j] = float32(opt.Beta1)*m[j] + float32(1-opt.Beta1)*g
			v[j] = float32(opt.Beta2)*v[j] + float32(1-opt.Beta2)*g*g

			mHat := float64(m[j]) / bc1
			vHat := float64(v[j]) / bc2

			update := mHat / (math.Sqrt(vHat) + opt.Eps)
			param.Data[j] -= float32(opt.LR) * (float32(update) + wd*param.Data[j])
		}
	}
}

// ZeroGrad clears all gradients.
func (opt *AdamW) ZeroGrad() {
	for _, p := range opt.Params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// SetLR updates the learning rate for all parameter groups uniformly.
func (opt *AdamW) SetLR(lr float64) { opt.LR = lr }

// GetLR returns the current learning rate.
func (opt *AdamW) GetLR() float64 { return opt.LR }

// ClipGradNorm clips gradients by global L2 norm across all parameters
// and returns the pre-clip norm.
func ClipGradNorm(params []*model.Param, maxNorm float64) float64 {
	totalNorm := float64(0)
	for _, p := range params {
		for _, g := range p.Grad {
			totalNorm += float64(g) * float64(g)
		}
	}
	totalNorm = math.Sqrt(totalNorm)

	if maxNorm <= 0 || totalNorm <= maxNorm {
		return totalNorm
	}
	scale := float32(maxNorm / totalNorm)
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= scale
		}
	}
	return totalNorm
}

// State is the serializable optimizer state for checkpointing.
type State struct {
	Step int
	M    [][]float32
	V    [][]float32
}

// State snapshots the optimizer's internal moments.
func (opt *AdamW) State() State {
	m := make([][]float32, len(opt.m))
	v := make([][]float32, len(opt.v))
	for i := range opt.m {
		m[i] = append([]float32(nil), opt.m[i]...)
		v[i] = append([]float32(nil), opt.v[i]...)
	}
	return State{Step: opt.step, M: m, V: v}
}

// LoadState restores moments saved by State.
func (opt *AdamW) LoadState(st State) error {
	if len(st.M) != len(opt.m) || len(st.V) != len(opt.v) {
		return fmt.Errorf("optim: state has %d/%d moment slots, optimizer has %d",
			len(st.M), len(st.V), len(opt.m))
	}
	for i := range st.M {
		if len(st.M[i]) != len(opt.m[i]) || len(st.V[i]) != len(opt.v[i]) {
			return fmt.Errorf("optim: moment %d size mismatch", i)
		}
		copy(opt.m[i], st.M[i])
		copy(opt.v[i], st.V[i])
	}
	opt.step = st.Step
	return nil
}
