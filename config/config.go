// Package config holds the immutable run configuration. It is constructed
// once at startup by a layered merge — defaults, then a JSON override
// file, then command-line overrides — and passed by reference to every
// component.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidSchedule reports a warmup/decay horizon that would produce an
// out-of-range decay ratio at runtime.
var ErrInvalidSchedule = errors.New("config: invalid learning-rate schedule")

// Config is the full configuration surface of a training run.
type Config struct {
	// I/O
	OutDir               string `json:"out_dir"`
	EvalInterval         int    `json:"eval_interval"`
	LogInterval          int    `json:"log_interval"`
	EvalIters            int    `json:"eval_iters"`
	EvalOnly             bool   `json:"eval_only"`
	AlwaysSaveCheckpoint bool   `json:"always_save_checkpoint"`
	// experiment tracking
	TrackLog     bool   `json:"track_log"`
	TrackProject string `json:"track_project"`
	TrackRunName string `json:"track_run_name"`
	// data
	Dataset                   string `json:"dataset"`
	DataDir                   string `json:"data_dir"`
	GradientAccumulationSteps int    `json:"gradient_accumulation_steps"`
	BatchSize                 int    `json:"batch_size"`
	BlockSize                 int    `json:"block_size"`
	// model
	InitFrom     string  `json:"init_from"` // "scratch", "resume" or a pretrained variant
	ModelBackend string  `json:"model_backend"`
	NLayer       int     `json:"n_layer"`
	NHead        int     `json:"n_head"`
	NEmbd        int     `json:"n_embd"`
	Dropout      float64 `json:"dropout"`
	Bias         bool    `json:"bias"`
	// adamw optimizer
	LearningRate float64 `json:"learning_rate"`
	MaxIters     int     `json:"max_iters"`
	WeightDecay  float64 `json:"weight_decay"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	GradClip     float64 `json:"grad_clip"` // 0 disables clipping
	// learning rate decay
	DecayLR     bool    `json:"decay_lr"`
	WarmupIters int     `json:"warmup_iters"`
	LRDecayIter int     `json:"lr_decay_iters"`
	MinLR       float64 `json:"min_lr"`
	// distributed
	Backend string `json:"backend"`
	Workers int    `json:"workers"`
	// system
	Tokenizer string `json:"tokenizer"` // "gpt2" or "byte"
	Precision string `json:"precision"` // "float32" or "float16" (enables grad scaling)
	Compile   bool   `json:"compile"`   // accepted for configuration parity; no-op here
	// conditional fine-tuning
	ConditionalLearning bool    `json:"conditional_learning"`
	Temperature         float64 `json:"temperature"`
	TopK                int     `json:"top_k"`
}

// Default returns the baseline configuration for fine-tuning a small
// model on a prompt/response dataset.
func Default() *Config {
	return &Config{
		OutDir:               "out",
		EvalInterval:         5,
		LogInterval:          1,
		EvalIters:            5,
		EvalOnly:             false,
		AlwaysSaveCheckpoint: false,

		TrackLog:     false,
		TrackProject: "gotune-finetune",
		TrackRunName: "",

		Dataset:                   "prompts",
		DataDir:                   "data",
		GradientAccumulationSteps: 40,
		BatchSize:                 1,
		BlockSize:                 1024,

		InitFrom:     "scratch",
		ModelBackend: "tinylm",
		NLayer:       12,
		NHead:        12,
		NEmbd:        768,
		Dropout:      0.0,
		Bias:         false,

		LearningRate: 3e-5,
		MaxIters:     20,
		WeightDecay:  1e-1,
		Beta1:        0.9,
		Beta2:        0.95,
		GradClip:     1.0,

		DecayLR:     false,
		WarmupIters: 2000,
		LRDecayIter: 600000,
		MinLR:       6e-6,

		Backend: "local",
		Workers: 1,

		// The tinylm backend sizes its logit table by vocab squared, so the
		// default pairs it with the byte tokenizer; GPT-2 BPE is for real
		// transformer backends (set tokenizer=gpt2 alongside one).
		Tokenizer: "byte",
		Precision: "float32",
		Compile:   false,

		ConditionalLearning: true,
		Temperature:         1.0,
		TopK:                10,
	}
}

// LoadFile overlays a JSON override file onto the receiver. Missing keys
// keep their current values.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations that would fail mid-run. Schedule
// horizon errors in particular must abort before training starts.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size %d", c.BatchSize)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("config: block_size %d", c.BlockSize)
	}
	if c.GradientAccumulationSteps <= 0 {
		return fmt.Errorf("config: gradient_accumulation_steps %d", c.GradientAccumulationSteps)
	}
	if c.MaxIters < 0 {
		return fmt.Errorf("config: max_iters %d", c.MaxIters)
	}
	if c.EvalInterval <= 0 || c.EvalIters <= 0 {
		return fmt.Errorf("config: eval_interval %d / eval_iters %d", c.EvalInterval, c.EvalIters)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("config: learning_rate %g", c.LearningRate)
	}
	if c.DecayLR {
		if c.WarmupIters < 0 || c.LRDecayIter <= c.WarmupIters {
			return fmt.Errorf("%w: decay horizon %d must lie beyond warmup %d",
				ErrInvalidSchedule, c.LRDecayIter, c.WarmupIters)
		}
		if c.MinLR < 0 || c.MinLR > c.LearningRate {
			return fmt.Errorf("%w: min_lr %g outside (0, learning_rate]",
				ErrInvalidSchedule, c.MinLR)
		}
	}
	switch c.Precision {
	case "float32", "float16", "bfloat16":
	default:
		return fmt.Errorf("config: unknown precision %q", c.Precision)
	}
	switch c.Tokenizer {
	case "gpt2", "byte":
	default:
		return fmt.Errorf("config: unknown tokenizer %q", c.Tokenizer)
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("config: temperature %g", c.Temperature)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers %d", c.Workers)
	}
	return nil
}
