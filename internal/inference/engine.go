package inference

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/chenhunghan/oxpilot/internal/logger"
	"github.com/chenhunghan/oxpilot/internal/logits"
)

// Generator runs the autoregressive decode loop for one prompt at a time. It
// is not safe for concurrent use; exactly one goroutine may drive it.
type Generator struct {
	Model     Model
	Tokenizer Tokenizer
	Config    GenerationConfig
	Logger    logger.Logger

	// Now is the clock used for deadlines; nil means time.Now.
	Now func() time.Time

	scratch []float32
}

func NewGenerator(m Model, tok Tokenizer, cfg GenerationConfig, log logger.Logger) *Generator {
	return &Generator{Model: m, Tokenizer: tok, Config: cfg, Logger: log}
}

// Run encodes prompt, feeds it through the model and emits one fragment per
// sampled token until a stop condition fires:
//
//   - the hard-stop id or the configured EOS id is sampled (FinishStop);
//   - max(1, p.MaxSampled) tokens have been emitted (FinishLength);
//   - Config.ToSample iterations ran after the first token (FinishLength);
//   - the request deadline passed (FinishLength).
//
// The first prompt-conditioned token is always emitted. Errors from the
// collaborators, from emit, or from ctx abort the run for this request only.
func (g *Generator) Run(ctx context.Context, prompt string, p Params, emit EmitFunc) (Result, error) {
	var res Result
	if ctx == nil {
		return res, fmt.Errorf("context is required")
	}
	if g.Model == nil || g.Tokenizer == nil {
		return res, ErrNilCollaborators
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	log := g.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	now := g.Now
	if now == nil {
		now = time.Now
	}
	start := now()
	deadline := p.Deadline
	if deadline.IsZero() && g.Config.RequestTimeout > 0 {
		deadline = start.Add(g.Config.RequestTimeout)
	}

	ids, err := safeEncode(g.Tokenizer, prompt)
	if err != nil {
		return res, fmt.Errorf("encode prompt: %w", err)
	}
	if len(ids) == 0 {
		return res, ErrEmptyPrompt
	}

	modelMax, err := safeMaxSeqLen(g.Model)
	if err != nil {
		return res, err
	}
	window := ContextWindow(modelMax, g.Config.MaxContext)
	ids, budget, dropped, err := FitPrompt(ids, p.MaxSampled, window)
	if err != nil {
		return res, err
	}
	res.PromptTokens = len(ids)
	res.Truncated = dropped
	if dropped > 0 {
		log.Debug("prompt truncated to fit context window", "dropped", dropped, "kept", len(ids), "window", window)
	}

	stop, eosOK := BuildStopTokens(g.Tokenizer, g.Config.EOSToken, g.Config.HardStopID)
	if !eosOK && g.Config.EOSToken != "" {
		log.Warn("eos token not found in vocabulary, eos stop disabled", "eos_token", g.Config.EOSToken)
	}

	cfg := logits.SamplerConfig{
		Seed:        g.Config.Seed,
		Temperature: p.Temperature,
	}
	if p.TopP != nil {
		cfg.TopP = *p.TopP
	}
	sampler := logits.NewSampler(cfg)

	finish := func(reason FinishReason) (Result, error) {
		res.FinishReason = reason
		res.Stats.TokensGenerated = res.Emitted
		res.Stats.Duration = now().Sub(start)
		if s := res.Stats.Duration.Seconds(); s > 0 {
			res.Stats.TPS = float64(res.Emitted) / s
		}
		return res, nil
	}

	out, err := safeForward(g.Model, ids, 0)
	if err != nil {
		return res, fmt.Errorf("forward prompt: %w", err)
	}

	history := make([]int, 0, min(budget, 1024))
	next := sampler.Sample(out)
	if err := g.emitToken(next, emit); err != nil {
		return res, err
	}
	history = append(history, next)
	res.Emitted++

	n := len(ids)
	for iter := 0; ; iter++ {
		if res.Emitted >= budget || iter >= g.Config.ToSample {
			return finish(FinishLength)
		}
		if !deadline.IsZero() && !now().Before(deadline) {
			log.Debug("request deadline exceeded", "emitted", res.Emitted)
			return finish(FinishLength)
		}
		pos := n + iter
		if pos >= window {
			return finish(FinishLength)
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		out, err = safeForward(g.Model, history[len(history)-1:], pos)
		if err != nil {
			return res, fmt.Errorf("forward at position %d: %w", pos, err)
		}
		scores := g.penalize(out, history)
		next = sampler.Sample(scores)

		if slices.Contains(stop, next) {
			return finish(FinishStop)
		}
		if err := g.emitToken(next, emit); err != nil {
			return res, err
		}
		history = append(history, next)
		res.Emitted++
	}
}

// penalize copies the model's logits before applying the repeat penalty so
// buffers owned by the model are never written.
func (g *Generator) penalize(out []float32, history []int) []float32 {
	if g.Config.RepeatPenalty == 1 || g.Config.RepeatLastN <= 0 {
		return out
	}
	if cap(g.scratch) < len(out) {
		g.scratch = make([]float32, len(out))
	}
	scores := g.scratch[:len(out)]
	copy(scores, out)
	logits.ApplyRepeatPenalty(scores, history, g.Config.RepeatLastN, float32(g.Config.RepeatPenalty))
	return scores
}

func (g *Generator) emitToken(id int, emit EmitFunc) error {
	text, err := safeDecodeOne(g.Tokenizer, id)
	if err != nil {
		return fmt.Errorf("decode token %d: %w", id, err)
	}
	if emit == nil {
		return nil
	}
	return emit(text)
}
