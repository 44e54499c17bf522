package data

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/yargevad/filepathx"

	"github.com/djeday123/gotune/tokenizer"
)

// CollectText concatenates every file matched by pattern (filepathx glob,
// ** supported) in sorted order.
func CollectText(pattern string) (string, error) {
	matches, err := filepathx.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("data: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("data: no files match %q", pattern)
	}
	sort.Strings(matches)

	var sb strings.Builder
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("data: read %s: %w", path, err)
		}
		sb.Write(raw)
	}
	return sb.String(), nil
}

// PrepareLM tokenizes a raw corpus, splits it at frac (e.g. 0.9), and
// writes train.bin/val.bin under outDir.
func PrepareLM(text string, tok tokenizer.Tokenizer, outDir string, frac float64) error {
	tokens := tok.Encode(text)
	boundary := SplitFraction(len(tokens), frac)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := WriteTokensBin(outDir+"/train.bin", tokens[:boundary]); err != nil {
		return fmt.Errorf("data: write train split: %w", err)
	}
	if err := WriteTokensBin(outDir+"/val.bin", tokens[boundary:]); err != nil {
		return fmt.Errorf("data: write val split: %w", err)
	}
	return nil
}

// PreparePairs tokenizes prompt/response pairs, splits them at frac, and
// writes train_data.json/val_data.json under outDir.
func PreparePairs(inputs, targets []string, tok tokenizer.Tokenizer, outDir string, frac float64) error {
	if len(inputs) != len(targets) {
		return fmt.Errorf("data: %d inputs for %d targets", len(inputs), len(targets))
	}
	examples := make([]Example, len(inputs))
	for i := range inputs {
		examples[i] = Example{
			Input:  tok.Encode(inputs[i]),
			Target: tok.Encode(targets[i]),
		}
	}
	boundary := SplitFraction(len(examples), frac)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := WriteExamples(outDir+"/train_data.json", examples[:boundary]); err != nil {
		return fmt.Errorf("data: write train split: %w", err)
	}
	if err := WriteExamples(outDir+"/val_data.json", examples[boundary:]); err != nil {
		return fmt.Errorf("data: write val split: %w", err)
	}
	return nil
}
