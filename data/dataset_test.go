package data

import (
	"path/filepath"
	"testing"
)

func TestTokensBinRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.bin")
	tokens := []int64{0, 1, 255, 50256, 65535}

	if err := WriteTokensBin(path, tokens); err != nil {
		t.Fatalf("WriteTokensBin failed: %v", err)
	}
	got, err := ReadTokensBin(path)
	if err != nil {
		t.Fatalf("ReadTokensBin failed: %v", err)
	}
	if len(got) != len(tokens) {
		t.Fatalf("read %d tokens, want %d", len(got), len(tokens))
	}
	for i := range tokens {
		if got[i] != tokens[i] {
			t.Errorf("token %d = %d, want %d", i, got[i], tokens[i])
		}
	}
}

func TestTokensBinRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	// The pad id 50257 fits, but anything past uint16 must be refused.
	if err := WriteTokensBin(filepath.Join(dir, "bad.bin"), []int64{70000}); err == nil {
		t.Fatal("expected error for token outside uint16 range")
	}
}

func TestExamplesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train_data.json")
	examples := []Example{
		{Input: []int64{1, 2, 3}, Target: []int64{4, 5}},
		{Input: []int64{6}, Target: []int64{7, 8, 9}},
	}

	if err := WriteExamples(path, examples); err != nil {
		t.Fatalf("WriteExamples failed: %v", err)
	}
	got, err := readExamples(path)
	if err != nil {
		t.Fatalf("readExamples failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d examples, want 2", len(got))
	}
	if len(got[0].Input) != 3 || len(got[1].Target) != 3 {
		t.Errorf("example shape lost in round trip: %+v", got)
	}
	if got[0].Input[0] != 1 || got[1].Target[2] != 9 {
		t.Errorf("example content lost in round trip: %+v", got)
	}
}

func TestSplitFraction(t *testing.T) {
	if got := SplitFraction(100, 0.9); got != 90 {
		t.Errorf("SplitFraction(100, 0.9) = %d, want 90", got)
	}
	if got := SplitFraction(10, 0.9); got != 9 {
		t.Errorf("SplitFraction(10, 0.9) = %d, want 9", got)
	}
}

func TestLoadLM(t *testing.T) {
	dir := t.TempDir()
	if err := WriteTokensBin(filepath.Join(dir, "train.bin"), []int64{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := WriteTokensBin(filepath.Join(dir, "val.bin"), []int64{5, 6}); err != nil {
		t.Fatal(err)
	}
	store, err := LoadLM(dir)
	if err != nil {
		t.Fatalf("LoadLM failed: %v", err)
	}
	if store.Conditional {
		t.Error("LM store marked conditional")
	}
	if store.Len(Train) != 4 || store.Len(Val) != 2 {
		t.Errorf("partition lengths %d/%d, want 4/2", store.Len(Train), store.Len(Val))
	}
}

func TestLoadConditional(t *testing.T) {
	dir := t.TempDir()
	examples := []Example{{Input: []int64{1}, Target: []int64{2}}}
	if err := WriteExamples(filepath.Join(dir, "train_data.json"), examples); err != nil {
		t.Fatal(err)
	}
	if err := WriteExamples(filepath.Join(dir, "val_data.json"), examples); err != nil {
		t.Fatal(err)
	}
	store, err := LoadConditional(dir)
	if err != nil {
		t.Fatalf("LoadConditional failed: %v", err)
	}
	if !store.Conditional {
		t.Error("conditional store not marked conditional")
	}
	if store.Len(Train) != 1 || store.Len(Val) != 1 {
		t.Errorf("partition lengths %d/%d, want 1/1", store.Len(Train), store.Len(Val))
	}
}
