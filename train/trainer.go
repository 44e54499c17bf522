// Package train drives the optimization loop: learning-rate scheduling,
// gradient accumulation with asynchronous batch prefetch, loss scaling,
// optional gradient synchronization across workers, periodic evaluation
// and best-metric checkpointing.
package train

import (
	"errors"
	"fmt"
	"time"

	"github.com/djeday123/gotune/checkpoint"
	"github.com/djeday123/gotune/config"
	"github.com/djeday123/gotune/data"
	"github.com/djeday123/gotune/dist"
	"github.com/djeday123/gotune/eval"
	"github.com/djeday123/gotune/model"
	"github.com/djeday123/gotune/optim"
	"github.com/djeday123/gotune/tokenizer"
)

// ErrEvalOnly reports a run that stopped after the smoke evaluation at
// iteration zero, as requested by the configuration.
var ErrEvalOnly = errors.New("train: eval-only run complete")

// Trainer owns one training run. All collaborators are injected; the
// trainer itself is a state machine over iterations.
type Trainer struct {
	Cfg      *config.Config
	Model    model.Model
	Opt      *optim.AdamW
	Scaler   *optim.GradScaler
	Sampler  *data.Sampler
	Tok      tokenizer.Tokenizer
	Eval     *eval.Engine
	Ckpt     *checkpoint.Manager
	Strategy dist.Strategy
	Tracker  Tracker
	Exporter *Exporter // optional

	// IterNum is the starting iteration; resumed runs set it from the
	// checkpoint.
	IterNum int
}

type fetched struct {
	batch *data.Batch
	err   error
}

// Run executes iterations from IterNum through MaxIters inclusive.
// EvalOnly runs stop with ErrEvalOnly after the iteration-zero evaluation.
func (t *Trainer) Run() error {
	cfg := t.Cfg
	accum := cfg.GradientAccumulationSteps
	if world := t.Strategy.WorldSize(); world > 1 {
		if accum%world != 0 {
			return fmt.Errorf("train: gradient_accumulation_steps %d not divisible by world size %d",
				accum, world)
		}
		accum /= world
	}

	sched := optim.Schedule{
		LearningRate: cfg.LearningRate,
		MinLR:        cfg.MinLR,
		WarmupIters:  cfg.WarmupIters,
		DecayIters:   cfg.LRDecayIter,
		Decay:        cfg.DecayLR,
	}
	params := t.Model.Params()

	// The prefetch channel always holds the batch for the next micro-step;
	// fetching overlaps with the backward pass.
	next := make(chan fetched, 1)
	prefetch := func() {
		b, err := t.Sampler.Sample(data.Train, false)
		next <- fetched{b, err}
	}
	cur, err := t.Sampler.Sample(data.Train, false)
	if err != nil {
		return fmt.Errorf("train: first batch: %w", err)
	}

	runningMFU := -1.0
	localIter := 0
	tick := time.Now()

	for iter := t.IterNum; ; iter++ {
		lr := sched.LR(iter)
		t.Opt.SetLR(lr)

		if iter == 0 && cfg.EvalOnly {
			// Smoke run: one evaluation on the authority, then every rank
			// exits. The exit must not be master-only: a rank entering the
			// micro-step loop alone would hang in the gradient collective.
			if t.Strategy.IsMaster() {
				if err := t.evaluate(iter, lr); err != nil {
					return err
				}
			}
			return ErrEvalOnly
		}
		// Never at iteration 0: an untrained model's metric must not
		// become the best-so-far baseline.
		if iter%cfg.EvalInterval == 0 && iter != 0 && t.Strategy.IsMaster() {
			if err := t.evaluate(iter, lr); err != nil {
				return err
			}
		}

		var loss float64
		for micro := 0; micro < accum; micro++ {
			scale := t.Scaler.LossScale() / float64(accum)
			if cfg.ConditionalLearning {
				loss, err = t.conditionalStep(cur, scale, prefetch)
			} else {
				loss, err = t.teacherForcedStep(cur, scale, prefetch)
			}
			if err != nil {
				return fmt.Errorf("train: iter %d micro %d: %w", iter, micro, err)
			}
			got := <-next
			if got.err != nil {
				return fmt.Errorf("train: iter %d prefetch: %w", iter, got.err)
			}
			cur = got.batch
		}

		// Workers exchange gradients once per accumulation window, never
		// per micro-step.
		if err := t.Strategy.SyncGradients(params); err != nil {
			return err
		}
		if cfg.GradClip != 0 {
			t.Scaler.Unscale(params)
			optim.ClipGradNorm(params, cfg.GradClip)
		}
		stepped := t.Scaler.Step(t.Opt)
		t.Scaler.Update()
		t.Opt.ZeroGrad()
		if !stepped && t.Strategy.IsMaster() {
			t.Tracker.LogStepSkipped(iter, t.Scaler.LossScale())
		}

		now := time.Now()
		dt := now.Sub(tick)
		tick = now
		if iter%cfg.LogInterval == 0 && t.Strategy.IsMaster() {
			mfu := runningMFU
			if localIter >= 5 {
				est := t.Model.EstimateMFU(cfg.BatchSize*accum, dt)
				if runningMFU < 0 {
					runningMFU = est
				} else {
					runningMFU = 0.9*runningMFU + 0.1*est
				}
				mfu = runningMFU
			}
			t.Tracker.LogIter(iter, loss, dt, lr, mfu)
		}
		localIter++

		if iter >= cfg.MaxIters {
			return nil
		}
	}
}

// teacherForcedStep runs one language-modeling micro-step: forward with
// loss, prefetch the next batch, then backward with the scaled loss.
func (t *Trainer) teacherForcedStep(b *data.Batch, scale float64, prefetch func()) (float64, error) {
	fwd, err := t.Model.Forward(b.Inputs, b.Targets)
	if err != nil {
		return 0, err
	}
	if !fwd.HasLoss {
		return 0, fmt.Errorf("forward pass produced no loss")
	}
	go prefetch()
	if err := t.Model.Backward(scale); err != nil {
		return 0, err
	}
	return fwd.Loss, nil
}

// conditionalStep runs one sequence-to-sequence micro-step: free-running
// generation as long as the padded target, cross-entropy of the generated
// logits against the target with pad positions excluded, and a backward
// pass through the cached generation logits.
func (t *Trainer) conditionalStep(b *data.Batch, scale float64, prefetch func()) (float64, error) {
	gen, err := t.Model.Generate(b.Inputs, model.GenerateOptions{
		MaxNewTokens: len(b.Targets[0]),
		Temperature:  t.Cfg.Temperature,
		TopK:         t.Cfg.TopK,
		WithLogits:   true,
	})
	if err != nil {
		return 0, err
	}
	go prefetch()

	padID := t.Tok.PadID()
	loss, err := model.CrossEntropy(gen.Logits, b.Targets, padID)
	if err != nil {
		return 0, err
	}
	dLogits, err := model.CrossEntropyGrad(gen.Logits, b.Targets, padID)
	if err != nil {
		return 0, err
	}
	f := float32(scale)
	for i := range dLogits {
		for s := range dLogits[i] {
			for v := range dLogits[i][s] {
				dLogits[i][s][v] *= f
			}
		}
	}
	if err := t.Model.BackwardLogits(dLogits); err != nil {
		return 0, err
	}
	return loss, nil
}

// evaluate runs one evaluation cycle, logs and exports it, and offers a
// checkpoint on the selection metric: validation loss for language
// modeling, negated validation BLEU for conditional fine-tuning (lower is
// better either way).
func (t *Trainer) evaluate(iter int, lr float64) error {
	res, err := t.Eval.Evaluate()
	if err != nil {
		return fmt.Errorf("train: eval at iter %d: %w", iter, err)
	}
	t.Tracker.LogEval(iter, res, lr)
	if t.Exporter != nil {
		if err := t.Exporter.Add(iter, res.Sample); err != nil {
			return err
		}
	}

	metric := res.Val.Loss
	if t.Cfg.ConditionalLearning {
		metric = -res.Val.BLEU
	}
	if _, err := t.Ckpt.MaybeSave(metric, iter, t.Model, t.Opt, t.Cfg); err != nil {
		return fmt.Errorf("train: checkpoint at iter %d: %w", iter, err)
	}
	return nil
}
