package model

import (
	"fmt"
	"sort"
	"time"
)

// Config defines the architecture hyperparameters persisted with every
// checkpoint. On resume these fields are restored from the checkpoint
// unconditionally; a mismatch makes resumption invalid.
type Config struct {
	NLayer    int     `json:"n_layer"`
	NHead     int     `json:"n_head"`
	NEmbd     int     `json:"n_embd"`
	BlockSize int     `json:"block_size"`
	Bias      bool    `json:"bias"`
	VocabSize int     `json:"vocab_size"`
	Dropout   float64 `json:"dropout"`
}

// Param is one trainable parameter leaf: flat data, flat gradient, and the
// logical shape. Parameters with rank >= 2 receive weight decay, matching
// the optimizer grouping convention.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NumElements returns the element count implied by the shape.
func (p *Param) NumElements() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// ForwardResult carries the outputs of a teacher-forced forward pass.
// Logits is [batch][seq][vocab]. Loss is set only when targets were given.
type ForwardResult struct {
	Logits  [][][]float32
	Loss    float64
	HasLoss bool
}

// GenerateOptions controls autoregressive generation.
type GenerateOptions struct {
	MaxNewTokens int
	Temperature  float64
	TopK         int
	// WithLogits asks the model to return (and cache for BackwardLogits)
	// the logits over every generated position.
	WithLogits bool
}

// GenerateResult carries generated continuations and, when requested,
// the logits over the generated positions: [batch][newTokens][vocab].
type GenerateResult struct {
	Output [][]int64
	Logits [][][]float32
}

// Model is the external collaborator contract consumed by the training
// core. The transformer internals behind it are out of scope here; the
// trainer only relies on this interface.
//
// Forward caches activations so a following Backward(scale) accumulates
// scale * dLoss/dParam into every Param's Grad. Generate with WithLogits
// caches likewise for BackwardLogits, which takes the upstream gradient
// of an externally computed loss over the generated logits.
type Model interface {
	Forward(inputs, targets [][]int64) (*ForwardResult, error)
	Backward(scale float64) error
	Generate(inputs [][]int64, opts GenerateOptions) (*GenerateResult, error)
	BackwardLogits(dLogits [][][]float32) error

	Params() []*Param
	Config() Config
	// SetTraining toggles training vs inference mode (dropout etc.).
	SetTraining(training bool)
	// EstimateMFU reports achieved model-flops-utilization as a fraction
	// of theoretical peak, given the effective batch size of the last
	// optimizer step and its wall time.
	EstimateMFU(batchEffective int, dt time.Duration) float64
	// CropBlockSize shrinks the position capacity to n; ExtendBlockSize
	// grows it. Both adjust the Config reported afterwards.
	CropBlockSize(n int) error
	ExtendBlockSize(n int) error
}

// Overrides are the few fields that may differ from a pretrained
// configuration when loading published weights.
type Overrides struct {
	Dropout *float64
}

// Factory builds a fresh model from an architecture config.
type Factory func(cfg Config) (Model, error)

// PretrainedLoader loads a named pretrained variant, e.g. "gpt2".
type PretrainedLoader func(name string, ov Overrides) (Model, error)

var (
	factories  = map[string]Factory{}
	pretrained = map[string]PretrainedLoader{}
)

// Register installs a scratch-init backend under a name.
func Register(name string, f Factory) {
	factories[name] = f
}

// RegisterPretrained installs a loader for a named pretrained variant.
func RegisterPretrained(name string, l PretrainedLoader) {
	pretrained[name] = l
}

// New builds a scratch model with the named backend.
func New(backend string, cfg Config) (Model, error) {
	f, ok := factories[backend]
	if !ok {
		return nil, fmt.Errorf("model: no backend registered as %q (have %v)", backend, registered())
	}
	return f(cfg)
}

// FromPretrained loads a named pretrained variant, e.g. init_from="gpt2".
func FromPretrained(name string, ov Overrides) (Model, error) {
	l, ok := pretrained[name]
	if !ok {
		return nil, fmt.Errorf("model: no pretrained loader registered for %q", name)
	}
	return l(name, ov)
}

func registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
