package inference

import (
	"errors"
	"time"
)

// Model is the external forward-pass engine. Implementations keep their own
// autoregressive state (KV cache, running context); pos is the absolute
// position of tokens[0] and a call at position 0 starts a fresh sequence.
type Model interface {
	Forward(tokens []int, pos int) ([]float32, error)
	MaxSeqLen() int
}

// Tokenizer is the external text codec.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	DecodeOne(id int) (string, error)
	TokenID(token string) (int, bool)
}

// EmitFunc receives every decoded fragment in generation order. A non-nil
// error abandons the rest of the generation.
type EmitFunc func(fragment string) error

type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
)

var (
	ErrEmptyPrompt      = errors.New("prompt encodes to zero tokens")
	ErrContextTooSmall  = errors.New("context window too small")
	ErrNilCollaborators = errors.New("model and tokenizer are required")
)

type Result struct {
	FinishReason FinishReason
	PromptTokens int
	// Truncated is the number of leading prompt tokens dropped to fit the window.
	Truncated int
	Emitted   int
	Stats     Stats
}

type Stats struct {
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}
