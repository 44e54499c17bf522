package tokenizer

// ByteTokenizer is the simplest possible tokenizer — each byte is a token.
// Base vocab = 256, pad token = 256. Good enough for tests and tiny runs.
type ByteTokenizer struct{}

const bytePadID = int64(256)

func NewByteTokenizer() *ByteTokenizer {
	return &ByteTokenizer{}
}

// Encode converts a string to token IDs.
func (t *ByteTokenizer) Encode(text string) []int64 {
	raw := []byte(text)
	tokens := make([]int64, len(raw))
	for i, b := range raw {
		tokens[i] = int64(b)
	}
	return tokens
}

// Decode converts token IDs back to a string. Pad tokens are skipped.
func (t *ByteTokenizer) Decode(tokens []int64) string {
	raw := make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		if tok == bytePadID {
			continue
		}
		raw = append(raw, byte(tok))
	}
	return string(raw)
}

// VocabSize returns the vocabulary size including the pad token.
func (t *ByteTokenizer) VocabSize() int { return 257 }

// PadID returns the reserved padding token id.
func (t *ByteTokenizer) PadID() int64 { return bytePadID }
