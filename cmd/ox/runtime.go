package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/chenhunghan/oxpilot/internal/dispatch"
	"github.com/chenhunghan/oxpilot/internal/hub"
	"github.com/chenhunghan/oxpilot/internal/inference"
	"github.com/chenhunghan/oxpilot/internal/logger"
	"github.com/chenhunghan/oxpilot/internal/provision"
)

// prepare loads the config file, applies it to unset flags and installs the
// process logger in the returned context.
func (o *options) prepare(ctx context.Context, c *cli.Command) (context.Context, Config, error) {
	cfg, err := LoadConfig(o.configFile)
	if err != nil {
		return ctx, cfg, err
	}
	o.apply(c, cfg)

	levelName := o.logLevel
	if o.debug {
		levelName = "debug"
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return ctx, cfg, err
	}
	format, err := logger.ParseFormat(o.logFormat)
	if err != nil {
		return ctx, cfg, err
	}
	log, err := logger.Setup(logger.Options{
		Format:  format,
		Level:   level,
		Writer:  os.Stderr,
		NoColor: !stderrIsTTY(),
	})
	if err != nil {
		return ctx, cfg, err
	}
	return logger.WithContext(ctx, log), cfg, nil
}

func (o *options) generationConfig() (inference.GenerationConfig, error) {
	gc := inference.GenerationConfig{
		Seed:           o.seed,
		Temperature:    o.temperature,
		RepeatPenalty:  o.repeatPenalty,
		RepeatLastN:    int(o.repeatLastN),
		EOSToken:       o.eosToken,
		HardStopID:     int(o.hardStopID),
		ToSample:       int(o.toSample),
		MaxSampled:     int(o.maxSampled),
		MaxContext:     int(o.maxContext),
		RequestTimeout: o.requestTimeout,
	}
	if o.topPSet {
		topP := o.topP
		gc.TopP = &topP
	}
	if err := gc.Validate(); err != nil {
		return gc, cli.Exit(err.Error(), 2)
	}
	return gc, nil
}

func (o *options) source(log logger.Logger) (*hub.Source, error) {
	return hub.NewSource(o.tokenizerRepo, o.modelRepo, o.modelFile, hub.Options{
		TokenizerRevision: o.tokenizerRevision,
		ModelRevision:     o.modelRevision,
		TokenizerFile:     o.tokenizerFile,
		Endpoint:          o.hubEndpoint,
		CacheDir:          o.cacheDir,
		Logger:            log,
	})
}

// engine is a running dispatcher together with the decode loop it owns.
type engine struct {
	*dispatch.Dispatcher
	config inference.GenerationConfig
}

// newEngine provisions the model and tokenizer and builds the dispatcher.
// The caller runs the actor with Run and stops it with Close.
func (o *options) newEngine(ctx context.Context) (*engine, error) {
	log := logger.FromContext(ctx)
	gc, err := o.generationConfig()
	if err != nil {
		return nil, err
	}
	src, err := o.source(log)
	if err != nil {
		return nil, err
	}
	model, tok, err := provision.Load(ctx, provision.Options{
		Source:    src,
		Backend:   o.backend,
		Seed:      o.seed,
		MaxSeqLen: int(o.maxContext),
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("provision model: %w", err)
	}
	gen := inference.NewGenerator(model, tok, gc, log)
	d := dispatch.New(gen, dispatch.Options{
		RequestTimeout: gc.RequestTimeout,
		Logger:         log,
	})
	return &engine{Dispatcher: d, config: gc}, nil
}

// start runs the actor in the background. stop closes the queue and waits
// for in-flight requests.
func (e *engine) start(ctx context.Context) (stop func()) {
	go func() { _ = e.Run(ctx) }()
	return func() {
		e.Close()
		<-e.Done()
	}
}

func (e *engine) request(prompt string) dispatch.Request {
	return dispatch.Request{
		Prompt:      prompt,
		Temperature: e.config.Temperature,
		TopP:        e.config.TopP,
		MaxSampled:  e.config.MaxSampled,
	}
}

// exitError converts an action error into a non-zero exit.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return cli.Exit("interrupted", 130)
	}
	return cli.Exit(err.Error(), 1)
}
