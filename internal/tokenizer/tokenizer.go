// Package tokenizer implements the Hugging Face tokenizer.json BPE codec.
package tokenizer

// Tokenizer is the codec surface used by the decode loop.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	DecodeOne(id int) (string, error)
	TokenID(text string) (int, bool)
}

var _ Tokenizer = (*HFTokenizer)(nil)
