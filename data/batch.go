package data

import (
	"fmt"
	"math/rand"

	"github.com/djeday123/gotune/tokenizer"
)

// displayIndex is the fixed example offset used by qualitative display
// draws, so the same sample is inspected across evaluation cycles.
const displayIndex = 3

// Batch is one ephemeral group of examples drawn from a partition.
// In conditional mode all inputs are right-padded to the batch-wide max
// input length and all targets to the batch-wide max target length,
// independently; TargetLens keeps each row's true pre-padding length.
// Reference is the detokenized (unpadded) target of example 0.
type Batch struct {
	Inputs     [][]int64
	Targets    [][]int64
	TargetLens []int
	Reference  string
}

// Sampler draws batches from a store: random offsets for training and
// evaluation, a fixed window for qualitative display.
type Sampler struct {
	BatchSize int
	BlockSize int

	store *Store
	tok   tokenizer.Tokenizer
	rng   *rand.Rand
}

// NewSampler builds a sampler. seed makes the draw sequence reproducible;
// distributed workers pass rank-offset seeds so shards differ.
func NewSampler(store *Store, tok tokenizer.Tokenizer, batchSize, blockSize int, seed int64) *Sampler {
	return &Sampler{
		BatchSize: batchSize,
		BlockSize: blockSize,
		store:     store,
		tok:       tok,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Sample draws one batch from the split. display selects the fixed
// inspection window instead of random offsets; display batches are for
// qualitative logging only, never for gradients.
func (s *Sampler) Sample(split Split, display bool) (*Batch, error) {
	if s.store.Conditional {
		return s.sampleConditional(split, display)
	}
	return s.sampleLM(split, display)
}

// sampleLM draws teacher-forced next-token windows: input = tokens[o:o+B],
// target = tokens[o+1:o+1+B].
func (s *Sampler) sampleLM(split Split, display bool) (*Batch, error) {
	stream := s.store.tokens(split)
	if len(stream) < s.BlockSize+1 {
		return nil, fmt.Errorf("%w: %s split has %d tokens, block size %d needs %d",
			ErrOutOfRange, split, len(stream), s.BlockSize, s.BlockSize+1)
	}

	rows := s.BatchSize
	if display {
		rows = 1
	}
	batch := &Batch{
		Inputs:     make([][]int64, rows),
		Targets:    make([][]int64, rows),
		TargetLens: make([]int, rows),
	}
	maxStart := len(stream) - s.BlockSize
	for b := 0; b < rows; b++ {
		var o int
		if display {
			o = displayIndex
			if o >= maxStart {
				o = maxStart - 1
			}
			if o < 0 {
				o = 0
			}
		} else {
			o = s.rng.Intn(maxStart)
		}
		batch.Inputs[b] = append([]int64(nil), stream[o:o+s.BlockSize]...)
		batch.Targets[b] = append([]int64(nil), stream[o+1:o+1+s.BlockSize]...)
		batch.TargetLens[b] = s.BlockSize
	}
	batch.Reference = s.tok.Decode(batch.Targets[0])
	return batch, nil
}

// sampleConditional draws a window of consecutive examples and right-pads
// inputs and targets independently to their batch-wide maxima. Padding
// operates on fresh copies; store entries are never mutated or truncated.
func (s *Sampler) sampleConditional(split Split, display bool) (*Batch, error) {
	examples := s.store.examples(split)
	if s.BatchSize > len(examples) {
		return nil, fmt.Errorf("%w: %s split has %d examples, batch size %d",
			ErrOutOfRange, split, len(examples), s.BatchSize)
	}

	var start int
	if display {
		start = displayIndex
		if start > len(examples)-s.BatchSize {
			start = len(examples) - s.BatchSize
		}
	} else {
		start = s.rng.Intn(len(examples) - s.BatchSize + 1)
	}
	window := examples[start : start+s.BatchSize]

	maxInput, maxTarget := 0, 0
	for _, ex := range window {
		if len(ex.Input) > maxInput {
			maxInput = len(ex.Input)
		}
		if len(ex.Target) > maxTarget {
			maxTarget = len(ex.Target)
		}
	}

	padID := s.tok.PadID()
	batch := &Batch{
		Inputs:     make([][]int64, len(window)),
		Targets:    make([][]int64, len(window)),
		TargetLens: make([]int, len(window)),
	}
	for i, ex := range window {
		batch.Inputs[i] = padTo(ex.Input, maxInput, padID)
		batch.Targets[i] = padTo(ex.Target, maxTarget, padID)
		batch.TargetLens[i] = len(ex.Target)
	}
	batch.Reference = s.tok.Decode(window[0].Target)
	return batch, nil
}

// padTo copies tokens into a fresh slice of length n, filling the tail
// with padID. n is never below len(tokens), so content is never truncated.
func padTo(tokens []int64, n int, padID int64) []int64 {
	out := make([]int64, n)
	copy(out, tokens)
	for i := len(tokens); i < n; i++ {
		out[i] = padID
	}
	return out
}
