package tokenizer

import (
	"github.com/wbrown/gpt_bpe"
)

// GPT2 vocabulary layout: ids 0..50256 are the base BPE vocabulary
// (50256 = <|endoftext|>). The pad token <|pad|> is appended at 50257,
// outside the base range, so packed uint16 datasets never contain it.
const (
	GPT2BaseVocab = 50257
	GPT2PadID     = int64(50257)
)

// GPT2Tokenizer wraps the gpt_bpe GPT-2 byte-pair encoder and adds the
// reserved pad token beyond the base vocabulary.
type GPT2Tokenizer struct {
	enc gpt_bpe.GPTEncoder
}

// NewGPT2Tokenizer loads the embedded GPT-2 encoder.
func NewGPT2Tokenizer() *GPT2Tokenizer {
	return &GPT2Tokenizer{enc: gpt_bpe.NewGPT2Encoder()}
}

// Encode converts text to GPT-2 BPE token IDs. The pad token is never
// produced by encoding; it only appears as appended padding.
func (t *GPT2Tokenizer) Encode(text string) []int64 {
	encoded := t.enc.Encode(&text)
	tokens := make([]int64, len(*encoded))
	for i, tok := range *encoded {
		tokens[i] = int64(tok)
	}
	return tokens
}

// Decode converts token IDs back to text. Pad tokens are skipped so that
// padded batches decode to the original content.
func (t *GPT2Tokenizer) Decode(tokens []int64) string {
	filtered := make(gpt_bpe.Tokens, 0, len(tokens))
	for _, tok := range tokens {
		if tok == GPT2PadID {
			continue
		}
		filtered = append(filtered, gpt_bpe.Token(tok))
	}
	return t.enc.Decode(&filtered)
}

// VocabSize returns the vocabulary size including the pad token.
func (t *GPT2Tokenizer) VocabSize() int { return GPT2BaseVocab + 1 }

// PadID returns the reserved padding token id.
func (t *GPT2Tokenizer) PadID() int64 { return GPT2PadID }
