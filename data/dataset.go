// Package data holds pre-tokenized training examples and draws padded
// batches from them. Two dataset shapes are supported: a flat token stream
// for next-token language modeling, and input/target example pairs for
// conditional sequence-to-sequence fine-tuning.
package data

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Split selects the train or validation partition.
type Split int

const (
	Train Split = iota
	Val
)

func (s Split) String() string {
	if s == Train {
		return "train"
	}
	return "val"
}

// ErrOutOfRange reports a batch request larger than the partition.
var ErrOutOfRange = errors.New("data: batch request exceeds partition size")

// Example is one conditional-mode training pair.
type Example struct {
	Input  []int64 `json:"input"`
	Target []int64 `json:"target"`
}

// Store holds the immutable train/val partitions, built once at startup.
type Store struct {
	Conditional bool

	lmTrain, lmVal     []int64
	condTrain, condVal []Example
}

// NewLMStore builds a language-modeling store from pre-split token streams.
func NewLMStore(train, val []int64) *Store {
	return &Store{lmTrain: train, lmVal: val}
}

// NewConditionalStore builds a conditional store from pre-split examples.
func NewConditionalStore(train, val []Example) *Store {
	return &Store{Conditional: true, condTrain: train, condVal: val}
}

// SplitFraction partitions n items at a fixed fraction, e.g. 0.9 for a
// 90/10 train/val boundary. The boundary is positional, not randomized.
func SplitFraction(n int, frac float64) int {
	return int(float64(n) * frac)
}

// LoadLM reads train.bin and val.bin (fixed-width uint16 little-endian
// token ids) from dir.
func LoadLM(dir string) (*Store, error) {
	train, err := ReadTokensBin(filepath.Join(dir, "train.bin"))
	if err != nil {
		return nil, fmt.Errorf("data: load train split: %w", err)
	}
	val, err := ReadTokensBin(filepath.Join(dir, "val.bin"))
	if err != nil {
		return nil, fmt.Errorf("data: load val split: %w", err)
	}
	return NewLMStore(train, val), nil
}

// LoadConditional reads train_data.json and val_data.json from dir. Each
// file maps a stringified example index to its input/target token pair;
// examples are ordered by index into an array-of-structs.
func LoadConditional(dir string) (*Store, error) {
	train, err := readExamples(filepath.Join(dir, "train_data.json"))
	if err != nil {
		return nil, fmt.Errorf("data: load train split: %w", err)
	}
	val, err := readExamples(filepath.Join(dir, "val_data.json"))
	if err != nil {
		return nil, fmt.Errorf("data: load val split: %w", err)
	}
	return NewConditionalStore(train, val), nil
}

// Len returns the partition length: tokens in LM mode, examples in
// conditional mode.
func (s *Store) Len(split Split) int {
	if s.Conditional {
		return len(s.examples(split))
	}
	return len(s.tokens(split))
}

func (s *Store) tokens(split Split) []int64 {
	if split == Train {
		return s.lmTrain
	}
	return s.lmVal
}

func (s *Store) examples(split Split) []Example {
	if split == Train {
		return s.condTrain
	}
	return s.condVal
}

// ReadTokensBin reads a flat uint16 little-endian token file.
func ReadTokensBin(path string) ([]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%s: odd byte count %d for uint16 tokens", path, len(raw))
	}
	tokens := make([]int64, len(raw)/2)
	for i := range tokens {
		tokens[i] = int64(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return tokens, nil
}

// WriteTokensBin writes tokens as fixed-width uint16 little-endian.
// Tokens outside the uint16 range are a preparation error; the pad id is
// deliberately chosen outside this range so it can never be persisted here.
func WriteTokensBin(path string, tokens []int64) error {
	raw := make([]byte, len(tokens)*2)
	for i, tok := range tokens {
		if tok < 0 || tok > 0xFFFF {
			return fmt.Errorf("%s: token %d does not fit uint16", path, tok)
		}
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(tok))
	}
	return os.WriteFile(path, raw, 0o644)
}

func readExamples(path string) ([]Example, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keyed := make(map[string]Example)
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	examples := make([]Example, len(keyed))
	for key, ex := range keyed {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(examples) {
			return nil, fmt.Errorf("%s: bad example index %q", path, key)
		}
		examples[idx] = ex
	}
	return examples, nil
}

// WriteExamples persists conditional examples keyed by stringified index,
// the on-disk layout the loaders expect.
func WriteExamples(path string, examples []Example) error {
	keyed := make(map[string]Example, len(examples))
	for i, ex := range examples {
		keyed[strconv.Itoa(i)] = ex
	}
	raw, err := json.MarshalIndent(keyed, "", " ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
