// Package checkpoint persists and restores training state: model
// parameters, optimizer moments, architecture configuration and run
// metadata, as a single blob per run directory.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/djeday123/gotune/config"
	"github.com/djeday123/gotune/model"
	"github.com/djeday123/gotune/optim"
)

// FileName is the single checkpoint blob, overwritten in place on each
// qualifying save.
const FileName = "ckpt.gob"

// SavedParam is one parameter leaf in the persisted payload.
type SavedParam struct {
	Name  string
	Shape []int
	Data  []float32
}

// Checkpoint is the full persisted payload, sufficient to exactly resume
// training.
type Checkpoint struct {
	ModelArgs   model.Config
	Params      []SavedParam
	Optimizer   optim.State
	IterNum     int
	BestValLoss float64
	RunConfig   config.Config
}

// Manager decides when to write checkpoints and tracks the best
// validation metric seen so far (lower is better).
type Manager struct {
	Dir        string
	AlwaysSave bool
	Best       float64
}

// NewManager starts with a sentinel best so the first evaluated metric
// always improves on it.
func NewManager(dir string, alwaysSave bool) *Manager {
	return &Manager{Dir: dir, AlwaysSave: alwaysSave, Best: 1e9}
}

// MaybeSave writes a checkpoint when the metric improves on the best so
// far, or unconditionally when AlwaysSave is set. The tracked best only
// moves on genuine improvement, so it is non-increasing over a run.
// Iteration 0 never saves: a freshly initialized model must not overwrite
// an earlier run's progress. Returns whether a checkpoint was written.
func (m *Manager) MaybeSave(metric float64, iter int, mdl model.Model, opt *optim.AdamW, cfg *config.Config) (bool, error) {
	improved := metric < m.Best
	if improved {
		m.Best = metric
	}
	if !improved && !m.AlwaysSave {
		return false, nil
	}
	if iter <= 0 {
		return false, nil
	}

	ckpt := Snapshot(mdl, opt, cfg, iter, m.Best)
	if err := Save(filepath.Join(m.Dir, FileName), ckpt); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot captures the current training state into a Checkpoint.
func Snapshot(mdl model.Model, opt *optim.AdamW, cfg *config.Config, iter int, best float64) *Checkpoint {
	params := mdl.Params()
	saved := make([]SavedParam, len(params))
	for i, p := range params {
		saved[i] = SavedParam{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), p.Data...),
		}
	}
	return &Checkpoint{
		ModelArgs:   mdl.Config(),
		Params:      saved,
		Optimizer:   opt.State(),
		IterNum:     iter,
		BestValLoss: best,
		RunConfig:   *cfg,
	}
}

// Save writes the checkpoint blob, replacing any previous one.
func Save(path string, ckpt *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("checkpoint: create %s: %w", tmp, err)
	}
	if err := gob.NewEncoder(f).Encode(ckpt); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the checkpoint blob from a run directory.
func Load(dir string) (*Checkpoint, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	defer f.Close()

	var ckpt Checkpoint
	if err := gob.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", path, err)
	}
	return &ckpt, nil
}

// Restore copies saved parameters and optimizer state into a freshly
// built model. The model must have been constructed with the checkpoint's
// architecture fields; any shape mismatch invalidates resumption.
func (c *Checkpoint) Restore(mdl model.Model, opt *optim.AdamW) error {
	params := mdl.Params()
	if len(params) != len(c.Params) {
		return fmt.Errorf("checkpoint: model has %d params, checkpoint %d", len(params), len(c.Params))
	}
	for i, p := range params {
		s := c.Params[i]
		if p.Name != s.Name {
			return fmt.Errorf("checkpoint: param %d is %q, checkpoint has %q", i, p.Name, s.Name)
		}
		if len(p.Data) != len(s.Data) {
			return fmt.Errorf("checkpoint: param %q has %d elements, checkpoint %d",
				p.Name, len(p.Data), len(s.Data))
		}
		copy(p.Data, s.Data)
	}
	if opt != nil {
		if err := opt.LoadState(c.Optimizer); err != nil {
			return err
		}
	}
	return nil
}
