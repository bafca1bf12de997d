package logits

import (
	"math"
	"testing"
)

// TestSamplerDeterminism ensures that two samplers configured identically
// produce identical token sequences over the same logits sequence.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()

	seq := [][]float32{
		{0, 1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1, 0},
		{1, 1, 1, 1, 1, 1},
		{0.5, 2, -1, 3, 0, 0.1},
	}
	for _, cfg := range []SamplerConfig{
		{Seed: 42, Temperature: 0.9},
		{Seed: 42, Temperature: 1.3, TopP: 0.8},
		{Seed: 299792458, Temperature: 1.0, TopP: 0.95},
	} {
		s1 := NewSampler(cfg)
		s2 := NewSampler(cfg)
		for round := 0; round < 20; round++ {
			for i, logs := range seq {
				a := s1.Sample(append([]float32(nil), logs...))
				b := s2.Sample(append([]float32(nil), logs...))
				if a != b {
					t.Fatalf("cfg %+v round %d step %d: got %d vs %d", cfg, round, i, a, b)
				}
			}
		}
	}
}

// TestSamplerGreedyIgnoresSeed checks that a zero temperature always yields
// the argmax regardless of the configured seed.
func TestSamplerGreedyIgnoresSeed(t *testing.T) {
	t.Parallel()

	logs := []float32{-1, 5, 3, 7, 2}
	for seed := int64(0); seed < 50; seed++ {
		s := NewSampler(SamplerConfig{Seed: seed, Temperature: 0, TopP: 0.3})
		if !s.Greedy() {
			t.Fatalf("expected greedy sampler")
		}
		for i := 0; i < 5; i++ {
			if idx := s.Sample(logs); idx != 3 {
				t.Fatalf("seed %d: expected greedy index 3, got %d", seed, idx)
			}
		}
	}
}

// TestSamplerTopP ensures that a dominant token is the whole nucleus, so
// only that index is ever returned.
func TestSamplerTopP(t *testing.T) {
	t.Parallel()

	logs := []float32{10, 0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopP: 0.5})
	for i := 0; i < 100; i++ {
		if idx := s.Sample(logs); idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}

func TestSamplerTopPStaysInsideNucleus(t *testing.T) {
	t.Parallel()

	logs := []float32{3, 2.9, 0, -1, -2, 1}
	nucleus := Nucleus(Softmax(logs, 1.0), 0.7)
	allowed := make(map[int]bool, len(nucleus))
	for _, id := range nucleus {
		allowed[id] = true
	}

	s := NewSampler(SamplerConfig{Seed: 3, Temperature: 1.0, TopP: 0.7})
	for i := 0; i < 500; i++ {
		if idx := s.Sample(logs); !allowed[idx] {
			t.Fatalf("sampled %d outside nucleus %v", idx, nucleus)
		}
	}
}

func TestNucleusIsMinimal(t *testing.T) {
	t.Parallel()

	logs := []float32{2, 1.5, 1, 0.5, 0, -0.5, -1, 3}
	prob := Softmax(logs, 0.8)
	for _, topP := range []float64{0.05, 0.2, 0.5, 0.75, 0.9, 0.99} {
		nucleus := Nucleus(prob, topP)
		var mass float64
		lowest := math.Inf(1)
		for _, id := range nucleus {
			mass += prob[id]
			lowest = math.Min(lowest, prob[id])
		}
		if mass < topP {
			t.Fatalf("topP %.2f: nucleus mass %.4f below threshold", topP, mass)
		}
		if mass-lowest >= topP {
			t.Fatalf("topP %.2f: nucleus %v is not minimal (mass without lowest %.4f)", topP, nucleus, mass-lowest)
		}
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	t.Parallel()

	prob := Softmax([]float32{1000, 999, -1000, 0}, 0.5)
	var sum float64
	for _, p := range prob {
		if p < 0 {
			t.Fatalf("negative probability %f", p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("softmax sum = %f, want 1", sum)
	}
}

func TestSamplerEmptyLogits(t *testing.T) {
	t.Parallel()

	s := NewSampler(SamplerConfig{Seed: 1, Temperature: 1})
	if idx := s.Sample(nil); idx != 0 {
		t.Fatalf("expected 0 for empty logits, got %d", idx)
	}
}
