package optim

import (
	"math"
	"testing"

	"github.com/djeday123/gotune/model"
)

func makeParams() []*model.Param {
	return []*model.Param{
		{Name: "weight", Shape: []int{2, 2}, Data: []float32{1, 1, 1, 1}, Grad: make([]float32, 4)},
		{Name: "bias", Shape: []int{2}, Data: []float32{0, 0}, Grad: make([]float32, 2)},
	}
}

func TestAdamWStepMovesAgainstGradient(t *testing.T) {
	params := makeParams()
	opt := Configure(params, 0.0, 0.1, 0.9, 0.95)

	for i := range params[0].Grad {
		params[0].Grad[i] = 1.0
	}
	before := params[0].Data[0]
	opt.Step()
	if params[0].Data[0] >= before {
		t.Errorf("parameter did not move against gradient: %f -> %f", before, params[0].Data[0])
	}
}

func TestAdamWWeightDecayGrouping(t *testing.T) {
	params := makeParams()
	opt := Configure(params, 0.5, 0.1, 0.9, 0.95)

	// Zero gradients: only weight decay moves parameters.
	opt.Step()
	if params[0].Data[0] >= 1.0 {
		t.Errorf("rank-2 parameter should receive weight decay, got %f", params[0].Data[0])
	}
	if params[1].Data[0] != 0 {
		t.Errorf("rank-1 parameter moved with zero grad and no decay: %f", params[1].Data[0])
	}
}

func TestZeroGrad(t *testing.T) {
	params := makeParams()
	opt := Configure(params, 0, 0.1, 0.9, 0.95)
	params[0].Grad[0] = 3
	opt.ZeroGrad()
	if params[0].Grad[0] != 0 {
		t.Error("ZeroGrad left gradients in place")
	}
}

func TestClipGradNorm(t *testing.T) {
	params := []*model.Param{
		{Name: "w", Shape: []int{1, 4}, Data: make([]float32, 4), Grad: []float32{3, 4, 0, 0}},
	}
	norm := ClipGradNorm(params, 1.0)
	if math.Abs(norm-5.0) > 1e-6 {
		t.Errorf("pre-clip norm = %f, want 5", norm)
	}
	after := float64(0)
	for _, g := range params[0].Grad {
		after += float64(g) * float64(g)
	}
	if math.Abs(math.Sqrt(after)-1.0) > 1e-5 {
		t.Errorf("post-clip norm = %f, want 1", math.Sqrt(after))
	}

	// Under the threshold nothing changes.
	params[0].Grad = []float32{0.1, 0, 0, 0}
	ClipGradNorm(params, 1.0)
	if params[0].Grad[0] != 0.1 {
		t.Error("clip modified gradients under the threshold")
	}
}

func TestStateRoundTrip(t *testing.T) {
	params := makeParams()
	opt := Configure(params, 0, 0.1, 0.9, 0.95)
	for i := range params[0].Grad {
		params[0].Grad[i] = 1
	}
	opt.Step()
	opt.Step()

	st := opt.State()

	params2 := makeParams()
	opt2 := Configure(params2, 0, 0.1, 0.9, 0.95)
	if err := opt2.LoadState(st); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	st2 := opt2.State()
	if st2.Step != st.Step {
		t.Errorf("step = %d, want %d", st2.Step, st.Step)
	}
	for i := range st.M {
		for j := range st.M[i] {
			if st2.M[i][j] != st.M[i][j] || st2.V[i][j] != st.V[i][j] {
				t.Fatalf("moment %d[%d] not restored", i, j)
			}
		}
	}
}

func TestGradScalerDisabled(t *testing.T) {
	s := NewGradScaler(false)
	if s.LossScale() != 1.0 {
		t.Errorf("disabled scaler LossScale = %f, want 1", s.LossScale())
	}
	params := makeParams()
	opt := Configure(params, 0, 0.1, 0.9, 0.95)
	params[0].Grad[0] = 1
	if !s.Step(opt) {
		t.Error("disabled scaler must always step")
	}
	s.Update()
}

func TestGradScalerSkipsNonFinite(t *testing.T) {
	s := NewGradScaler(true)
	params := makeParams()
	opt := Configure(params, 0, 0.1, 0.9, 0.95)
	params[0].Grad[0] = float32(math.Inf(1))

	before := s.LossScale()
	if s.Step(opt) {
		t.Error("scaler stepped through non-finite gradients")
	}
	s.Update()
	if s.LossScale() >= before {
		t.Errorf("scale did not back off: %f -> %f", before, s.LossScale())
	}
}

func TestGradScalerUnscale(t *testing.T) {
	s := NewGradScaler(true)
	params := makeParams()
	scale := float32(s.LossScale())
	params[0].Grad[0] = 2 * scale

	s.Unscale(params)
	if math.Abs(float64(params[0].Grad[0]-2)) > 1e-6 {
		t.Errorf("unscaled grad = %f, want 2", params[0].Grad[0])
	}
	// Second unscale before Update is a no-op.
	s.Unscale(params)
	if math.Abs(float64(params[0].Grad[0]-2)) > 1e-6 {
		t.Errorf("repeated Unscale changed grad to %f", params[0].Grad[0])
	}
}
