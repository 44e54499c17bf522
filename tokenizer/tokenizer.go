package tokenizer

// Tokenizer is the common interface for all tokenizers in gotune.
// Both ByteTokenizer and GPT2Tokenizer implement this.
//
// VocabSize includes the reserved padding token. The pad id sits one past
// the base vocabulary so that no content token ever collides with it, and
// so that tightly packed uint16 dataset files never contain it.
type Tokenizer interface {
	Encode(text string) []int64
	Decode(tokens []int64) string
	VocabSize() int
	PadID() int64
}

// StripPad returns tokens with trailing padding removed.
// Content tokens are never dropped, only the reserved pad id.
func StripPad(tokens []int64, padID int64) []int64 {
	end := len(tokens)
	for end > 0 && tokens[end-1] == padID {
		end--
	}
	return tokens[:end]
}
