// Package commitmsg generates Conventional Commits messages with the model.
package commitmsg

import (
	"context"
	"fmt"
	"regexp"

	"github.com/chenhunghan/oxpilot/internal/dispatch"
)

const (
	// RetryTemperatureStep is added to the first temperature for the retry.
	RetryTemperatureStep = 0.5
	MaxTemperature       = 2.0
	// DefaultMaxSampled bounds a generated commit message.
	DefaultMaxSampled = 96
)

var conventionalRe = regexp.MustCompile(`^(build|chore|ci|docs|feat|fix|perf|refactor|revert|style|test)(\([^()\n]*\))?(!)?: .+`)

// Valid reports whether msg starts with a Conventional Commits subject.
func Valid(msg string) bool {
	return conventionalRe.MatchString(msg)
}

// RetryTemperature returns the temperature used for the single retry.
func RetryTemperature(first float64) float64 {
	return min(first+RetryTemperatureStep, MaxTemperature)
}

// Generator produces one raw completion for prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

type GeneratorFunc func(ctx context.Context, prompt string, temperature float64) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return f(ctx, prompt, temperature)
}

// Prompter is the subset of the dispatcher used to generate messages.
type Prompter interface {
	Prompt(ctx context.Context, req dispatch.Request) (<-chan dispatch.Fragment, error)
}

// FromPrompter adapts a dispatcher into a Generator that collects the whole
// fragment stream.
func FromPrompter(p Prompter, maxSampled int, topP *float64) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		ch, err := p.Prompt(ctx, dispatch.Request{
			Prompt:      prompt,
			Temperature: temperature,
			TopP:        topP,
			MaxSampled:  maxSampled,
		})
		if err != nil {
			return "", err
		}
		text, _, err := dispatch.Collect(ctx, ch)
		return text, err
	})
}

// Attempt describes one generation round.
type Attempt struct {
	Number      int
	Temperature float64
	Message     string
	Valid       bool
}

type Result struct {
	Message  string
	Valid    bool
	Attempts []Attempt
}

// Workflow generates a message and retries exactly once, at a higher
// temperature, when the first candidate is not a Conventional Commit. The
// second candidate is returned whether or not it validates.
type Workflow struct {
	Generator   Generator
	Temperature float64
	// OnAttempt, when set, is called before each generation round.
	OnAttempt func(number int, temperature float64)
}

func (w *Workflow) Run(ctx context.Context, prompt string) (Result, error) {
	var res Result
	temps := []float64{w.Temperature, RetryTemperature(w.Temperature)}
	for i, temp := range temps {
		if w.OnAttempt != nil {
			w.OnAttempt(i+1, temp)
		}
		raw, err := w.Generator.Generate(ctx, prompt, temp)
		if err != nil {
			return res, fmt.Errorf("generate commit message (attempt %d): %w", i+1, err)
		}
		msg := Clean(raw)
		ok := Valid(msg)
		res.Attempts = append(res.Attempts, Attempt{Number: i + 1, Temperature: temp, Message: msg, Valid: ok})
		res.Message, res.Valid = msg, ok
		if ok {
			break
		}
	}
	return res, nil
}
