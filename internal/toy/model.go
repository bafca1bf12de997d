// Package toy provides a small deterministic language model. It has real
// embedding and projection weights drawn from a seeded source but is not
// trained, so its output is reproducible noise. It exercises the decode loop
// end to end without model weights on disk.
package toy

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	DefaultHidden    = 16
	DefaultMaxSeqLen = 4096
	// stateDecay weighs the running context against the newest token.
	stateDecay = 0.5
)

type Config struct {
	Vocab     int
	Hidden    int
	MaxSeqLen int
	Seed      int64
}

// Model keeps a running hidden state in place of a KV cache: position 0
// resets it and every other call must continue where the last one ended.
type Model struct {
	vocab  int
	hidden int
	maxSeq int

	emb  []float32 // [vocab x hidden]
	w    []float32 // [hidden x vocab]
	bias []float32 // [vocab]
	h    []float32 // [hidden]
	pos  int
}

func New(cfg Config) (*Model, error) {
	if cfg.Vocab <= 0 {
		return nil, fmt.Errorf("toy model: vocab size must be positive, got %d", cfg.Vocab)
	}
	if cfg.Hidden <= 0 {
		cfg.Hidden = DefaultHidden
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = DefaultMaxSeqLen
	}
	m := &Model{
		vocab:  cfg.Vocab,
		hidden: cfg.Hidden,
		maxSeq: cfg.MaxSeqLen,
		emb:    make([]float32, cfg.Vocab*cfg.Hidden),
		w:      make([]float32, cfg.Hidden*cfg.Vocab),
		bias:   make([]float32, cfg.Vocab),
		h:      make([]float32, cfg.Hidden),
	}
	fillRand(m.emb, cfg.Seed+11, 1)
	fillRand(m.w, cfg.Seed+23, float32(1/math.Sqrt(float64(cfg.Hidden))))
	return m, nil
}

func fillRand(dst []float32, seed int64, scale float32) {
	r := rand.New(rand.NewSource(seed))
	for i := range dst {
		dst[i] = (r.Float32()*2 - 1) * scale
	}
}

func (m *Model) MaxSeqLen() int { return m.maxSeq }

func (m *Model) VocabSize() int { return m.vocab }

// Forward feeds tokens starting at pos and returns logits for the position
// after the last token. A newly allocated slice is returned.
func (m *Model) Forward(tokens []int, pos int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("toy model: no tokens")
	}
	if pos == 0 {
		clear(m.h)
		m.pos = 0
	}
	if pos != m.pos {
		return nil, fmt.Errorf("toy model: position %d out of sequence (expected %d)", pos, m.pos)
	}
	if pos+len(tokens) > m.maxSeq {
		return nil, fmt.Errorf("toy model: position %d exceeds context window %d", pos+len(tokens), m.maxSeq)
	}
	for _, tok := range tokens {
		if tok < 0 || tok >= m.vocab {
			return nil, fmt.Errorf("toy model: token id %d out of range [0,%d)", tok, m.vocab)
		}
	}

	for _, tok := range tokens {
		row := m.emb[tok*m.hidden : (tok+1)*m.hidden]
		for i := range m.h {
			m.h[i] = m.h[i]*stateDecay + row[i]
		}
	}
	m.pos += len(tokens)

	logits := make([]float32, m.vocab)
	copy(logits, m.bias)
	for i, hv := range m.h {
		wrow := m.w[i*m.vocab : (i+1)*m.vocab]
		for j, wv := range wrow {
			logits[j] += hv * wv
		}
	}
	return logits, nil
}
