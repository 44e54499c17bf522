package tokenizer

import "testing"

func TestByteRoundTrip(t *testing.T) {
	tok := NewByteTokenizer()
	texts := []string{
		"hello world",
		"",
		"line one\nline two\ttabbed",
		"func main() { fmt.Println(42) }",
	}
	for _, text := range texts {
		got := tok.Decode(tok.Encode(text))
		if got != text {
			t.Errorf("round trip changed text: %q -> %q", text, got)
		}
	}
}

func TestBytePadID(t *testing.T) {
	tok := NewByteTokenizer()
	if tok.PadID() != 256 {
		t.Errorf("PadID = %d, want 256", tok.PadID())
	}
	if tok.VocabSize() != 257 {
		t.Errorf("VocabSize = %d, want 257", tok.VocabSize())
	}
	// Pad must be outside the range of any encoded token.
	tokens := tok.Encode("some text")
	for _, id := range tokens {
		if id == tok.PadID() {
			t.Fatalf("encoder produced the pad id %d", id)
		}
	}
}

func TestByteDecodeSkipsPad(t *testing.T) {
	tok := NewByteTokenizer()
	tokens := append(tok.Encode("ab"), tok.PadID(), tok.PadID())
	if got := tok.Decode(tokens); got != "ab" {
		t.Errorf("Decode with padding = %q, want %q", got, "ab")
	}
}

func TestStripPad(t *testing.T) {
	padID := int64(256)
	tests := []struct {
		name string
		in   []int64
		want int
	}{
		{"no padding", []int64{1, 2, 3}, 3},
		{"trailing padding", []int64{1, 2, 256, 256}, 2},
		{"all padding", []int64{256, 256}, 0},
		{"interior pad kept", []int64{1, 256, 2}, 3},
	}
	for _, tt := range tests {
		got := StripPad(tt.in, padID)
		if len(got) != tt.want {
			t.Errorf("%s: len = %d, want %d", tt.name, len(got), tt.want)
		}
	}
}

func TestGPT2Layout(t *testing.T) {
	if GPT2PadID != int64(GPT2BaseVocab) {
		t.Errorf("pad id %d must be adjacent to base vocab %d", GPT2PadID, GPT2BaseVocab)
	}
}

func TestGPT2RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping GPT-2 encoder load in short mode")
	}
	tok := NewGPT2Tokenizer()
	text := "The patent describes a method for aircraft control."
	got := tok.Decode(tok.Encode(text))
	if got != text {
		t.Errorf("round trip changed text: %q -> %q", text, got)
	}
	if tok.VocabSize() != 50258 {
		t.Errorf("VocabSize = %d, want 50258", tok.VocabSize())
	}
}
