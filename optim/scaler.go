package optim

import (
	"math"

	"github.com/djeday123/gotune/model"
)

// GradScaler implements mixed-precision loss scaling: losses are scaled up
// before the backward pass to keep small gradients representable, and
// gradients are unscaled before clipping and the optimizer step. Steps that
// produce non-finite gradients are skipped and the scale backs off;
// a run of good steps grows it again. Disabled, it is a no-op passthrough.
type GradScaler struct {
	enabled        bool
	scale          float64
	growthFactor   float64
	backoffFactor  float64
	growthInterval int

	goodSteps int
	unscaled  bool
	skipped   bool
}

// NewGradScaler builds a scaler. enabled=false yields a no-op with scale 1.
func NewGradScaler(enabled bool) *GradScaler {
	return &GradScaler{
		enabled:        enabled,
		scale:          65536.0,
		growthFactor:   2.0,
		backoffFactor:  0.5,
		growthInterval: 2000,
	}
}

// LossScale returns the factor backward passes must apply to the loss.
func (s *GradScaler) LossScale() float64 {
	if !s.enabled {
		return 1.0
	}
	return s.scale
}

// Unscale divides accumulated gradients by the current scale. Safe to call
// once per step; repeated calls before Update are no-ops.
func (s *GradScaler) Unscale(params []*model.Param) {
	if !s.enabled || s.unscaled {
		return
	}
	inv := float32(1.0 / s.scale)
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= inv
		}
	}
	s.unscaled = true
}

// Step unscales if needed, then steps the optimizer unless any gradient is
// non-finite, in which case the step is skipped. Returns whether the
// optimizer actually stepped.
func (s *GradScaler) Step(opt *AdamW) bool {
	s.Unscale(opt.Params)
	if s.enabled && hasNonFinite(opt.Params) {
		s.skipped = true
		return false
	}
	opt.Step()
	return true
}

// Update adjusts the scale after a step: backoff when the step was skipped,
// growth after a run of good steps.
func (s *GradScaler) Update() {
	if s.enabled {
		if s.skipped {
			s.scale *= s.backoffFactor
			if s.scale < 1 {
				s.scale = 1
			}
			s.goodSteps = 0
		} else {
			s.goodSteps++
			if s.goodSteps >= s.growthInterval {
				s.scale *= s.growthFactor
				s.goodSteps = 0
			}
		}
	}
	s.skipped = false
	s.unscaled = false
}

func hasNonFinite(params []*model.Param) bool {
	for _, p := range params {
		for _, g := range p.Grad {
			f := float64(g)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return true
			}
		}
	}
	return false
}
