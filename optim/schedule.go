package optim

import (
	"fmt"
	"math"
)

// Schedule is the warmup-then-cosine learning rate decay schedule:
// a linear ramp from 0 to LearningRate over WarmupIters steps, cosine
// decay from LearningRate to MinLR between WarmupIters and DecayIters,
// and MinLR beyond DecayIters. With Decay disabled the rate is constant.
type Schedule struct {
	LearningRate float64
	MinLR        float64
	WarmupIters  int
	DecayIters   int
	Decay        bool
}

// LR returns the learning rate for iteration it.
// A decay ratio outside [0,1] means the warmup/decay horizon is
// misconfigured; that is a configuration error, not a runtime condition,
// so it panics.
func (s Schedule) LR(it int) float64 {
	if !s.Decay {
		return s.LearningRate
	}
	// 1) linear warmup for WarmupIters steps
	if it < s.WarmupIters {
		return s.LearningRate * float64(it) / float64(s.WarmupIters)
	}
	// The horizon check comes before the hold-at-minimum return: a decay
	// horizon inside the warmup must fail loudly, not quietly yield MinLR.
	span := s.DecayIters - s.WarmupIters
	if span <= 0 {
		panic(fmt.Sprintf("optim: decay horizon %d not beyond warmup %d", s.DecayIters, s.WarmupIters))
	}
	// 2) past the decay horizon, hold at the minimum
	if it > s.DecayIters {
		return s.MinLR
	}
	// 3) in between, cosine decay down to MinLR
	decayRatio := float64(it-s.WarmupIters) / float64(span)
	if decayRatio < 0 || decayRatio > 1 {
		panic(fmt.Sprintf("optim: decay ratio %f outside [0,1] (warmup %d, decay %d)",
			decayRatio, s.WarmupIters, s.DecayIters))
	}
	coeff := 0.5 * (1.0 + math.Cos(math.Pi*decayRatio)) // ranges 1..0
	return s.MinLR + coeff*(s.LearningRate-s.MinLR)
}
