package logits

import (
	"math"
	"math/rand"
	"sort"
)

// greedyEpsilon is the temperature below which sampling degrades to argmax.
const greedyEpsilon = 1e-7

// SamplerConfig configures the behaviour of a Sampler. It is fixed at
// construction time.
type SamplerConfig struct {
	Seed        int64
	Temperature float64
	// TopP enables nucleus sampling when it lies strictly between 0 and 1.
	TopP float64
}

type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool
	prob   []float64
	order  []int
}

// NewSampler returns a new sampler with the provided configuration.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := math.IsNaN(cfg.Temperature) || cfg.Temperature < greedyEpsilon
	if cfg.TopP <= 0 || cfg.TopP >= 1 || math.IsNaN(cfg.TopP) {
		cfg.TopP = 1
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Greedy reports whether the sampler always returns the argmax.
func (s *Sampler) Greedy() bool {
	return s.greedy
}

// Sample draws a single token id from the provided logits vector:
//
//  1. With a zero temperature the argmax is returned and the RNG is not touched.
//  2. Otherwise logits are scaled by 1/temperature and turned into a
//     probability distribution with a numerically stable softmax.
//  3. If TopP<1, the distribution is restricted to the smallest
//     probability-sorted prefix whose mass reaches TopP.
//  4. A value drawn from the sampler's own RNG selects an index from the
//     (implicitly renormalised) distribution.
//
// The caller owns repeat-penalty handling; see ApplyRepeatPenalty.
func (s *Sampler) Sample(logits []float32) int {
	if len(logits) == 0 {
		return 0
	}
	if s.greedy {
		return Argmax(logits)
	}

	if cap(s.prob) < len(logits) {
		s.prob = make([]float64, len(logits))
	}
	prob := s.prob[:len(logits)]
	if !softmaxInto(prob, logits, s.cfg.Temperature) {
		return Argmax(logits)
	}

	if s.cfg.TopP < 1 {
		s.order = sortedByProb(s.order, prob)
		cut := nucleusLen(s.order, prob, s.cfg.TopP)
		var mass float64
		for _, id := range s.order[:cut] {
			mass += prob[id]
		}
		r := s.rng.Float64() * mass
		var c float64
		for _, id := range s.order[:cut] {
			c += prob[id]
			if r < c {
				return id
			}
		}
		return s.order[cut-1]
	}

	r := s.rng.Float64()
	var c float64
	last := 0
	for id, p := range prob {
		if p == 0 {
			continue
		}
		c += p
		last = id
		if r < c {
			return id
		}
	}
	return last
}

// Softmax returns the temperature-scaled probability distribution of logits.
func Softmax(logits []float32, temperature float64) []float64 {
	out := make([]float64, len(logits))
	if !softmaxInto(out, logits, temperature) {
		return nil
	}
	return out
}

// Nucleus returns the ids of the smallest probability-sorted prefix of prob
// whose cumulative mass is at least topP. Ties keep the lower id first.
func Nucleus(prob []float64, topP float64) []int {
	if len(prob) == 0 {
		return nil
	}
	order := sortedByProb(nil, prob)
	if topP <= 0 || topP >= 1 {
		return order
	}
	return order[:nucleusLen(order, prob, topP)]
}

// Argmax returns the index of the maximum value in x. Ties resolve to the
// lowest index. It panics on an empty slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV || (math.IsNaN(float64(bestV)) && !math.IsNaN(float64(x[i]))) {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

func softmaxInto(dst []float64, logits []float32, temperature float64) bool {
	if temperature <= 0 {
		temperature = 1
	}
	invTemp := 1.0 / temperature
	maxv := math.Inf(-1)
	for _, l := range logits {
		v := float64(l) * invTemp
		if v > maxv {
			maxv = v
		}
	}
	if math.IsInf(maxv, -1) || math.IsNaN(maxv) {
		return false
	}
	var sum float64
	for i, l := range logits {
		v := float64(l)*invTemp - maxv
		if math.IsNaN(v) {
			dst[i] = 0
			continue
		}
		e := math.Exp(v)
		dst[i] = e
		sum += e
	}
	if sum == 0 || math.IsInf(sum, 0) {
		return false
	}
	inv := 1.0 / sum
	for i := range dst {
		dst[i] *= inv
	}
	return true
}

func sortedByProb(order []int, prob []float64) []int {
	if cap(order) < len(prob) {
		order = make([]int, len(prob))
	}
	order = order[:len(prob)]
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return prob[order[a]] > prob[order[b]]
	})
	return order
}

// nucleusLen walks ids in descending probability order and returns how many
// are needed before the cumulative mass reaches topP.
func nucleusLen(order []int, prob []float64, topP float64) int {
	var c float64
	for i, id := range order {
		c += prob[id]
		if c >= topP {
			return i + 1
		}
	}
	return len(order)
}
