// Package provision turns artifact sources into the Model and Tokenizer the
// decode loop runs against.
package provision

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/chenhunghan/oxpilot/internal/hub"
	"github.com/chenhunghan/oxpilot/internal/inference"
	"github.com/chenhunghan/oxpilot/internal/logger"
	"github.com/chenhunghan/oxpilot/internal/tokenizer"
	"github.com/chenhunghan/oxpilot/internal/toy"
)

const (
	Toy     = "toy"
	Default = Toy
)

// Request is what a backend receives to build a model.
type Request struct {
	Source    *hub.Source
	Tokenizer *tokenizer.HFTokenizer
	Seed      int64
	MaxSeqLen int
	Logger    logger.Logger
}

// Backend builds a Model. It runs once at startup.
type Backend func(ctx context.Context, req Request) (inference.Model, error)

var (
	mu       sync.RWMutex
	backends = map[string]Backend{Toy: newToy}
)

// RegisterBackend makes a model engine available under name. Registering an
// existing name replaces it.
func RegisterBackend(name string, b Backend) {
	if b == nil {
		panic("provision: nil backend")
	}
	mu.Lock()
	defer mu.Unlock()
	backends[strings.ToLower(strings.TrimSpace(name))] = b
}

// Backends lists registered backend names in sorted order.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Normalize resolves a user supplied backend name.
func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Default, nil
	}
	mu.RLock()
	_, ok := backends[backend]
	mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown backend %q (expected one of %s)", backend, strings.Join(Backends(), ", "))
	}
	return backend, nil
}

type Options struct {
	Source    *hub.Source
	Backend   string
	Seed      int64
	MaxSeqLen int
	Logger    logger.Logger
}

// Load fetches and parses the tokenizer and builds the model with the
// selected backend.
func Load(ctx context.Context, opts Options) (inference.Model, inference.Tokenizer, error) {
	if opts.Source == nil {
		return nil, nil, fmt.Errorf("provision: no artifact source")
	}
	log := opts.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	name, err := Normalize(opts.Backend)
	if err != nil {
		return nil, nil, err
	}

	tokPath, err := opts.Source.Tokenizer(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch tokenizer: %w", err)
	}
	cfgPath, err := opts.Source.TokenizerConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch tokenizer config: %w", err)
	}
	tok, err := tokenizer.LoadHFTokenizer(tokPath, cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load tokenizer %s: %w", tokPath, err)
	}
	log.Debug("tokenizer loaded", "path", tokPath, "vocab", tok.VocabSize(), "bos", tok.BOSID(), "eos", tok.EOSID())

	mu.RLock()
	build := backends[name]
	mu.RUnlock()
	model, err := build(ctx, Request{
		Source:    opts.Source,
		Tokenizer: tok,
		Seed:      opts.Seed,
		MaxSeqLen: opts.MaxSeqLen,
		Logger:    log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s backend: %w", name, err)
	}
	log.Info("model ready", "backend", name, "context", model.MaxSeqLen())
	return model, tok, nil
}

// newToy sizes the toy model to the tokenizer vocabulary. It does not read
// the model file.
func newToy(_ context.Context, req Request) (inference.Model, error) {
	req.Logger.Warn("toy backend generates untrained output; the model file is not loaded",
		"model_repo", req.Source.ModelRepo, "model_file", req.Source.ModelFile)
	return toy.New(toy.Config{
		Vocab:     req.Tokenizer.VocabSize(),
		MaxSeqLen: req.MaxSeqLen,
		Seed:      req.Seed,
	})
}
