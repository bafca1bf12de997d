package main

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/chenhunghan/oxpilot/internal/hub"
	"github.com/chenhunghan/oxpilot/internal/inference"
	"github.com/chenhunghan/oxpilot/internal/provision"
)

// options holds the root flags shared by every subcommand.
type options struct {
	temperature    float64
	seed           int64
	toSample       int64
	topP           float64
	topPSet        bool
	repeatPenalty  float64
	repeatLastN    int64
	maxSampled     int64
	eosToken       string
	hardStopID     int64
	maxContext     int64
	requestTimeout time.Duration
	streamMode     string

	tokenizerRepo     string
	tokenizerRevision string
	tokenizerFile     string
	modelRepo         string
	modelRevision     string
	modelFile         string
	cacheDir          string
	hubEndpoint       string
	backend           string

	configFile string
	logLevel   string
	logFormat  string
	debug      bool
}

func (o *options) generationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"t", "temp"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       inference.DefaultTemperature,
			Destination: &o.temperature,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Aliases:     []string{"s"},
			Usage:       "sampling RNG seed",
			Value:       inference.DefaultSeed,
			Destination: &o.seed,
		},
		&cli.Int64Flag{
			Name:        "to-sample",
			Aliases:     []string{"n"},
			Usage:       "maximum decode iterations after the first token",
			Value:       inference.DefaultToSample,
			Destination: &o.toSample,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p"},
			Usage:       "nucleus sampling cutoff (unset = disabled)",
			Destination: &o.topP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"r"},
			Usage:       "penalty for repeated tokens (1.0 = disabled)",
			Value:       inference.DefaultRepeatPenalty,
			Destination: &o.repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Usage:       "last n tokens considered by the repeat penalty",
			Value:       inference.DefaultRepeatLastN,
			Destination: &o.repeatLastN,
		},
		&cli.Int64Flag{
			Name:        "max-sampled",
			Usage:       "maximum tokens emitted per request",
			Value:       inference.DefaultMaxSampled,
			Destination: &o.maxSampled,
		},
		&cli.StringFlag{
			Name:        "eos-token",
			Usage:       "end-of-sequence token text",
			Value:       inference.DefaultEOSToken,
			Destination: &o.eosToken,
		},
		&cli.Int64Flag{
			Name:        "hard-stop-id",
			Usage:       "token id that always ends generation (negative = disabled)",
			Value:       inference.DefaultHardStopID,
			Destination: &o.hardStopID,
		},
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"ctx"},
			Usage:       "context window cap (0 = model limit)",
			Destination: &o.maxContext,
		},
		&cli.DurationFlag{
			Name:        "request-timeout",
			Usage:       "per-request generation deadline",
			Value:       inference.DefaultRequestTimeout,
			Destination: &o.requestTimeout,
		},
	}
}

func (o *options) provisionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "tokenizer-repo-id",
			Usage:       "tokenizer repository id or local directory",
			Value:       defaultTokenizerRepo,
			Destination: &o.tokenizerRepo,
		},
		&cli.StringFlag{
			Name:        "tokenizer-repo-revision",
			Usage:       "tokenizer repository revision",
			Value:       hub.DefaultRevision,
			Destination: &o.tokenizerRevision,
		},
		&cli.StringFlag{
			Name:        "tokenizer-file",
			Usage:       "tokenizer file within the repository",
			Value:       hub.DefaultTokenizerFile,
			Destination: &o.tokenizerFile,
		},
		&cli.StringFlag{
			Name:        "model-repo-id",
			Usage:       "model repository id or local directory",
			Value:       defaultModelRepo,
			Destination: &o.modelRepo,
		},
		&cli.StringFlag{
			Name:        "model-repo-revision",
			Usage:       "model repository revision",
			Value:       hub.DefaultRevision,
			Destination: &o.modelRevision,
		},
		&cli.StringFlag{
			Name:        "model-file-name",
			Usage:       "model file within the repository",
			Value:       defaultModelFile,
			Destination: &o.modelFile,
		},
		&cli.StringFlag{
			Name:        "cache-dir",
			Usage:       "artifact cache directory",
			Sources:     cli.EnvVars(hub.EnvCacheDir),
			Destination: &o.cacheDir,
		},
		&cli.StringFlag{
			Name:        "hub-endpoint",
			Usage:       "artifact repository base URL",
			Sources:     cli.EnvVars(hub.EnvEndpoint),
			Destination: &o.hubEndpoint,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "model backend",
			Value:       provision.Default,
			Destination: &o.backend,
		},
	}
}

func (o *options) outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "stdout streaming (instant, quiet)",
			Value:       string(StreamInstant),
			Destination: &o.streamMode,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Value:       configPath(),
			Destination: &o.configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &o.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &o.logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &o.debug,
		},
	}
}

func (o *options) flags() []cli.Flag {
	var all []cli.Flag
	all = append(all, o.generationFlags()...)
	all = append(all, o.provisionFlags()...)
	all = append(all, o.outputFlags()...)
	return all
}
