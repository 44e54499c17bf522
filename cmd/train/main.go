// Command train fine-tunes a language model on a prepared dataset.
//
// Configuration is a layered merge: built-in defaults, then an optional
// JSON config file, then command-line flags.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/djeday123/gotune/checkpoint"
	"github.com/djeday123/gotune/config"
	"github.com/djeday123/gotune/data"
	"github.com/djeday123/gotune/dist"
	"github.com/djeday123/gotune/eval"
	"github.com/djeday123/gotune/model"
	_ "github.com/djeday123/gotune/model/tinylm"
	"github.com/djeday123/gotune/optim"
	"github.com/djeday123/gotune/tokenizer"
	"github.com/djeday123/gotune/train"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	flagCfg := config.Default()
	var configPath string

	cmd := &cobra.Command{
		Use:           "train",
		Short:         "Fine-tune a language model on a prepared dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				if err := cfg.LoadFile(configPath); err != nil {
					return err
				}
			}
			applyFlagOverrides(cmd.Flags(), cfg, flagCfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "JSON config file overlaid on the defaults")
	f.StringVar(&flagCfg.OutDir, "out-dir", flagCfg.OutDir, "run output directory")
	f.StringVar(&flagCfg.DataDir, "data-dir", flagCfg.DataDir, "root of prepared datasets")
	f.StringVar(&flagCfg.Dataset, "dataset", flagCfg.Dataset, "dataset name under data-dir")
	f.StringVar(&flagCfg.InitFrom, "init-from", flagCfg.InitFrom, "scratch, resume, or a pretrained variant")
	f.StringVar(&flagCfg.ModelBackend, "model-backend", flagCfg.ModelBackend, "registered model backend")
	f.StringVar(&flagCfg.Tokenizer, "tokenizer", flagCfg.Tokenizer, "gpt2 or byte")
	f.StringVar(&flagCfg.Precision, "precision", flagCfg.Precision, "float32, float16 or bfloat16")
	f.IntVar(&flagCfg.BatchSize, "batch-size", flagCfg.BatchSize, "examples per micro-step")
	f.IntVar(&flagCfg.BlockSize, "block-size", flagCfg.BlockSize, "context window in tokens")
	f.IntVar(&flagCfg.GradientAccumulationSteps, "grad-accum", flagCfg.GradientAccumulationSteps, "micro-steps per optimizer step")
	f.IntVar(&flagCfg.MaxIters, "max-iters", flagCfg.MaxIters, "final training iteration")
	f.IntVar(&flagCfg.EvalInterval, "eval-interval", flagCfg.EvalInterval, "iterations between evaluations")
	f.IntVar(&flagCfg.EvalIters, "eval-iters", flagCfg.EvalIters, "batches averaged per evaluation")
	f.BoolVar(&flagCfg.EvalOnly, "eval-only", flagCfg.EvalOnly, "evaluate once and exit")
	f.BoolVar(&flagCfg.AlwaysSaveCheckpoint, "always-save", flagCfg.AlwaysSaveCheckpoint, "checkpoint after every evaluation")
	f.BoolVar(&flagCfg.ConditionalLearning, "conditional", flagCfg.ConditionalLearning, "sequence-to-sequence fine-tuning")
	f.Float64Var(&flagCfg.LearningRate, "learning-rate", flagCfg.LearningRate, "peak learning rate")
	f.Float64Var(&flagCfg.GradClip, "grad-clip", flagCfg.GradClip, "gradient norm clip, 0 disables")
	f.BoolVar(&flagCfg.DecayLR, "decay-lr", flagCfg.DecayLR, "enable warmup plus cosine decay")
	f.IntVar(&flagCfg.WarmupIters, "warmup-iters", flagCfg.WarmupIters, "linear warmup horizon")
	f.IntVar(&flagCfg.LRDecayIter, "lr-decay-iters", flagCfg.LRDecayIter, "cosine decay horizon")
	f.Float64Var(&flagCfg.MinLR, "min-lr", flagCfg.MinLR, "floor learning rate after decay")
	f.Float64Var(&flagCfg.Temperature, "temperature", flagCfg.Temperature, "generation temperature")
	f.IntVar(&flagCfg.TopK, "top-k", flagCfg.TopK, "generation top-k, 0 disables")
	return cmd
}

// applyFlagOverrides copies explicitly set flags over the file-loaded
// configuration, so flags win the merge.
func applyFlagOverrides(flags *pflag.FlagSet, dst, src *config.Config) {
	overrides := map[string]func(){
		"out-dir":        func() { dst.OutDir = src.OutDir },
		"data-dir":       func() { dst.DataDir = src.DataDir },
		"dataset":        func() { dst.Dataset = src.Dataset },
		"init-from":      func() { dst.InitFrom = src.InitFrom },
		"model-backend":  func() { dst.ModelBackend = src.ModelBackend },
		"tokenizer":      func() { dst.Tokenizer = src.Tokenizer },
		"precision":      func() { dst.Precision = src.Precision },
		"batch-size":     func() { dst.BatchSize = src.BatchSize },
		"block-size":     func() { dst.BlockSize = src.BlockSize },
		"grad-accum":     func() { dst.GradientAccumulationSteps = src.GradientAccumulationSteps },
		"max-iters":      func() { dst.MaxIters = src.MaxIters },
		"eval-interval":  func() { dst.EvalInterval = src.EvalInterval },
		"eval-iters":     func() { dst.EvalIters = src.EvalIters },
		"eval-only":      func() { dst.EvalOnly = src.EvalOnly },
		"always-save":    func() { dst.AlwaysSaveCheckpoint = src.AlwaysSaveCheckpoint },
		"conditional":    func() { dst.ConditionalLearning = src.ConditionalLearning },
		"learning-rate":  func() { dst.LearningRate = src.LearningRate },
		"grad-clip":      func() { dst.GradClip = src.GradClip },
		"decay-lr":       func() { dst.DecayLR = src.DecayLR },
		"warmup-iters":   func() { dst.WarmupIters = src.WarmupIters },
		"lr-decay-iters": func() { dst.LRDecayIter = src.LRDecayIter },
		"min-lr":         func() { dst.MinLR = src.MinLR },
		"temperature":    func() { dst.Temperature = src.Temperature },
		"top-k":          func() { dst.TopK = src.TopK },
	}
	for name, apply := range overrides {
		if flags.Changed(name) {
			apply()
		}
	}
}

func run(cfg *config.Config) error {
	tok, err := buildTokenizer(cfg.Tokenizer)
	if err != nil {
		return err
	}
	store, err := loadStore(cfg)
	if err != nil {
		return err
	}

	if cfg.Backend == "inproc" && cfg.Workers > 1 {
		return runInProc(cfg, tok, store)
	}

	strategy, err := dist.New(cfg.Backend)
	if err != nil {
		return err
	}
	seed := int64(1337)
	if env, launched := dist.FromEnv(); launched {
		seed += int64(env.Rank)
	}
	err = runWorker(cfg, tok, store, strategy, seed)
	if errors.Is(err, train.ErrEvalOnly) {
		return nil
	}
	return err
}

// runInProc shards the run across Workers goroutine ranks over one
// in-process collective world. Rank 0 is the logging and checkpointing
// authority; the store is read-only and shared.
func runInProc(cfg *config.Config, tok tokenizer.Tokenizer, store *data.Store) error {
	groups, err := dist.NewInProcWorld(cfg.Workers)
	if err != nil {
		return err
	}
	errs := make([]error, cfg.Workers)
	var wg sync.WaitGroup
	for rank, group := range groups {
		wg.Add(1)
		go func(rank int, group dist.ProcessGroup) {
			defer wg.Done()
			// Rank-offset seeds keep the worker shards distinct.
			errs[rank] = runWorker(cfg, tok, store, dist.NewDataParallel(group), int64(1337+rank))
		}(rank, group)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil && !errors.Is(err, train.ErrEvalOnly) {
			return fmt.Errorf("worker %d: %w", rank, err)
		}
	}
	return nil
}

func runWorker(cfg *config.Config, tok tokenizer.Tokenizer, store *data.Store, strategy dist.Strategy, seed int64) error {
	defer strategy.Close()

	mdl, mgr, ckpt, err := buildModel(cfg, tok)
	if err != nil {
		return err
	}
	opt := optim.Configure(mdl.Params(), cfg.WeightDecay, cfg.LearningRate, cfg.Beta1, cfg.Beta2)
	iterNum := 0
	if ckpt != nil {
		if err := ckpt.Restore(mdl, opt); err != nil {
			return err
		}
		iterNum = ckpt.IterNum
	}

	sampler := data.NewSampler(store, tok, cfg.BatchSize, cfg.BlockSize, seed)
	trainer := &train.Trainer{
		Cfg:     cfg,
		Model:   mdl,
		Opt:     opt,
		Scaler:  optim.NewGradScaler(cfg.Precision == "float16"),
		Sampler: sampler,
		Tok:     tok,
		Eval: &eval.Engine{
			Model:       mdl,
			Sampler:     sampler,
			Tok:         tok,
			Conditional: cfg.ConditionalLearning,
			EvalIters:   cfg.EvalIters,
			Temperature: cfg.Temperature,
			TopK:        cfg.TopK,
		},
		Ckpt:     mgr,
		Strategy: strategy,
		Tracker:  train.ConsoleTracker{},
		IterNum:  iterNum,
	}

	if strategy.IsMaster() {
		if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
			return err
		}
		exporter, err := train.OpenExporter(cfg.OutDir)
		if err != nil {
			return err
		}
		defer exporter.Close()
		trainer.Exporter = exporter

		tokensPerIter := cfg.GradientAccumulationSteps * cfg.BatchSize * cfg.BlockSize
		log.Printf("tokens per iteration: %d", tokensPerIter)
	}

	return trainer.Run()
}

func buildTokenizer(name string) (tokenizer.Tokenizer, error) {
	switch name {
	case "gpt2":
		return tokenizer.NewGPT2Tokenizer(), nil
	case "byte":
		return tokenizer.NewByteTokenizer(), nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

func loadStore(cfg *config.Config) (*data.Store, error) {
	dir := filepath.Join(cfg.DataDir, cfg.Dataset)
	if cfg.ConditionalLearning {
		return data.LoadConditional(dir)
	}
	return data.LoadLM(dir)
}

// buildModel constructs the model per init_from: fresh weights, a resumed
// checkpoint's architecture, or a published pretrained variant. The
// context window is cropped or extended to the configured block size.
// For resumed runs the loaded checkpoint is returned so weights and
// optimizer state can be restored once the optimizer exists.
func buildModel(cfg *config.Config, tok tokenizer.Tokenizer) (model.Model, *checkpoint.Manager, *checkpoint.Checkpoint, error) {
	mgr := checkpoint.NewManager(cfg.OutDir, cfg.AlwaysSaveCheckpoint)

	var mdl model.Model
	var ckpt *checkpoint.Checkpoint
	var err error
	switch {
	case cfg.InitFrom == "scratch":
		mdl, err = model.New(cfg.ModelBackend, model.Config{
			NLayer:    cfg.NLayer,
			NHead:     cfg.NHead,
			NEmbd:     cfg.NEmbd,
			BlockSize: cfg.BlockSize,
			Bias:      cfg.Bias,
			VocabSize: tok.VocabSize(),
			Dropout:   cfg.Dropout,
		})
	case cfg.InitFrom == "resume":
		ckpt, err = checkpoint.Load(cfg.OutDir)
		if err != nil {
			return nil, nil, nil, err
		}
		// Architecture always comes from the checkpoint, never the
		// command line.
		mdl, err = model.New(cfg.ModelBackend, ckpt.ModelArgs)
		mgr.Best = ckpt.BestValLoss
	case strings.HasPrefix(cfg.InitFrom, "gpt2"):
		mdl, err = model.FromPretrained(cfg.InitFrom, model.Overrides{Dropout: &cfg.Dropout})
	default:
		return nil, nil, nil, fmt.Errorf("unknown init_from %q", cfg.InitFrom)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	if have := mdl.Config().BlockSize; cfg.BlockSize < have {
		err = mdl.CropBlockSize(cfg.BlockSize)
	} else if cfg.BlockSize > have {
		err = mdl.ExtendBlockSize(cfg.BlockSize)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	return mdl, mgr, ckpt, nil
}
