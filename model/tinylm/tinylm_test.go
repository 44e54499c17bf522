package tinylm

import (
	"math"
	"testing"
	"time"

	"github.com/djeday123/gotune/model"
)

func testConfig() model.Config {
	return model.Config{NLayer: 1, NHead: 1, NEmbd: 8, BlockSize: 16, VocabSize: 11}
}

func TestForwardShapes(t *testing.T) {
	m, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	inputs := [][]int64{{1, 2, 3}, {4, 5, 6}}
	res, err := m.Forward(inputs, nil)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if res.HasLoss {
		t.Error("Forward without targets reported a loss")
	}
	if len(res.Logits) != 2 || len(res.Logits[0]) != 3 || len(res.Logits[0][0]) != 11 {
		t.Errorf("logits shape [%d][%d][%d], want [2][3][11]",
			len(res.Logits), len(res.Logits[0]), len(res.Logits[0][0]))
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	m, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// Deterministic next-token pattern: target = input + 1 mod vocab.
	inputs := [][]int64{{0, 1, 2, 3, 4, 5, 6, 7}}
	targets := [][]int64{{1, 2, 3, 4, 5, 6, 7, 8}}

	var first, last float64
	lr := float32(0.5)
	for step := 0; step < 50; step++ {
		res, err := m.Forward(inputs, targets)
		if err != nil {
			t.Fatalf("step %d forward: %v", step, err)
		}
		if step == 0 {
			first = res.Loss
		}
		last = res.Loss

		if err := m.Backward(1.0); err != nil {
			t.Fatalf("step %d backward: %v", step, err)
		}
		for _, p := range m.Params() {
			for i := range p.Data {
				p.Data[i] -= lr * p.Grad[i]
				p.Grad[i] = 0
			}
		}
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %f, last %f", first, last)
	}
}

func TestBackwardScale(t *testing.T) {
	m, _ := New(testConfig())
	inputs := [][]int64{{1, 2}}
	targets := [][]int64{{2, 3}}

	if _, err := m.Forward(inputs, targets); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := m.Backward(1.0); err != nil {
		t.Fatalf("backward: %v", err)
	}
	ref := append([]float32(nil), m.table.Grad...)

	for i := range m.table.Grad {
		m.table.Grad[i] = 0
	}
	for i := range m.bias.Grad {
		m.bias.Grad[i] = 0
	}
	if _, err := m.Forward(inputs, targets); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := m.Backward(0.5); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for i := range ref {
		if math.Abs(float64(m.table.Grad[i]-0.5*ref[i])) > 1e-6 {
			t.Fatalf("grad[%d] = %f, want %f", i, m.table.Grad[i], 0.5*ref[i])
		}
	}
}

func TestGenerate(t *testing.T) {
	m, _ := New(testConfig())
	res, err := m.Generate([][]int64{{3, 4}}, model.GenerateOptions{
		MaxNewTokens: 5, Temperature: 1.0, TopK: 3, WithLogits: true,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(res.Output[0]) != 5 {
		t.Errorf("generated %d tokens, want 5", len(res.Output[0]))
	}
	if len(res.Logits[0]) != 5 {
		t.Errorf("logits for %d positions, want 5", len(res.Logits[0]))
	}
	for _, tok := range res.Output[0] {
		if tok < 0 || int(tok) >= testConfig().VocabSize {
			t.Errorf("generated token %d outside vocab", tok)
		}
	}
}

func TestBackwardLogitsRequiresGenerate(t *testing.T) {
	m, _ := New(testConfig())
	if err := m.BackwardLogits([][][]float32{{{0}}}); err == nil {
		t.Fatal("expected error without a cached generation")
	}
}

func TestBlockSizeSurgery(t *testing.T) {
	m, _ := New(testConfig())
	if err := m.CropBlockSize(8); err != nil {
		t.Fatalf("crop: %v", err)
	}
	if m.Config().BlockSize != 8 {
		t.Errorf("block size = %d, want 8", m.Config().BlockSize)
	}
	if err := m.ExtendBlockSize(32); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if m.Config().BlockSize != 32 {
		t.Errorf("block size = %d, want 32", m.Config().BlockSize)
	}
	if err := m.CropBlockSize(64); err == nil {
		t.Error("crop beyond current capacity should fail")
	}
}

func TestModeSwitch(t *testing.T) {
	m, _ := New(testConfig())
	if !m.Training() {
		t.Error("new model should start in training mode")
	}
	m.SetTraining(false)
	if m.Training() {
		t.Error("SetTraining(false) ignored")
	}
}

func TestEstimateMFU(t *testing.T) {
	m, _ := New(testConfig())
	mfu := m.EstimateMFU(32, 100*time.Millisecond)
	if mfu <= 0 {
		t.Errorf("MFU = %f, want > 0", mfu)
	}
}
