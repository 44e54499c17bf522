// Package dist coordinates optional multi-worker data parallelism.
// The trainer owns a Strategy selected at construction and uses the same
// interface whether the run is local or sharded; gradient synchronization
// happens once per accumulation window, not per micro-step.
package dist

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/djeday123/gotune/model"
)

// ErrUnsupportedBackend reports a distributed backend this build cannot
// provide. External collectives are collaborator primitives; only the
// local and in-process strategies are built in.
var ErrUnsupportedBackend = errors.New("dist: unsupported backend")

// ProcessGroup is the collective-communication collaborator contract.
// AllReduceSum replaces buf with the element-wise sum across all members;
// every member must join every round or the collective blocks forever.
type ProcessGroup interface {
	Rank() int
	WorldSize() int
	AllReduceSum(buf []float32) error
	Barrier() error
	Close() error
}

// Strategy is the execution strategy handle owned by the trainer.
type Strategy interface {
	Rank() int
	WorldSize() int
	// IsMaster reports whether this worker is the logging, checkpointing
	// and evaluation authority.
	IsMaster() bool
	// SyncGradients averages accumulated gradients across workers. Called
	// once per accumulation window, after the final micro-step.
	SyncGradients(params []*model.Param) error
	Close() error
}

// Local is the single-worker strategy: always the master, no
// synchronization.
type Local struct{}

func (Local) Rank() int      { return 0 }
func (Local) WorldSize() int { return 1 }
func (Local) IsMaster() bool { return true }
func (Local) Close() error   { return nil }

func (Local) SyncGradients(params []*model.Param) error { return nil }

// DataParallel shards the global batch across a process group and
// averages gradients through its collective.
type DataParallel struct {
	group ProcessGroup
}

func NewDataParallel(group ProcessGroup) *DataParallel {
	return &DataParallel{group: group}
}

func (d *DataParallel) Rank() int      { return d.group.Rank() }
func (d *DataParallel) WorldSize() int { return d.group.WorldSize() }
func (d *DataParallel) IsMaster() bool { return d.group.Rank() == 0 }

// SyncGradients all-reduces every parameter's gradient and divides by the
// world size, so each worker steps with the mean gradient.
func (d *DataParallel) SyncGradients(params []*model.Param) error {
	inv := float32(1.0 / float64(d.group.WorldSize()))
	for _, p := range params {
		if err := d.group.AllReduceSum(p.Grad); err != nil {
			return fmt.Errorf("dist: sync %s: %w", p.Name, err)
		}
		for i := range p.Grad {
			p.Grad[i] *= inv
		}
	}
	return nil
}

func (d *DataParallel) Close() error { return d.group.Close() }

// Env describes the worker identity taken from the launcher environment.
type Env struct {
	Rank      int
	LocalRank int
	WorldSize int
}

// FromEnv reads RANK, LOCAL_RANK and WORLD_SIZE. ok is false outside a
// distributed launch.
func FromEnv() (Env, bool) {
	rankStr, found := os.LookupEnv("RANK")
	if !found {
		return Env{}, false
	}
	rank, err := strconv.Atoi(rankStr)
	if err != nil {
		return Env{}, false
	}
	local, _ := strconv.Atoi(os.Getenv("LOCAL_RANK"))
	world, err := strconv.Atoi(os.Getenv("WORLD_SIZE"))
	if err != nil || world < 1 {
		world = 1
	}
	return Env{Rank: rank, LocalRank: local, WorldSize: world}, true
}

// New selects a strategy for the named backend. Without a launcher
// environment the run is local regardless of backend.
func New(backend string) (Strategy, error) {
	if _, ok := FromEnv(); !ok {
		return Local{}, nil
	}
	switch backend {
	case "", "local":
		return Local{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (in-process worlds are built with NewInProcWorld)",
			ErrUnsupportedBackend, backend)
	}
}
