package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultTokenizerRepo = "hf-internal-testing/llama-tokenizer"
	defaultModelRepo     = "TheBloke/CodeLlama-7B-GGUF"
	defaultModelFile     = "codellama-7b.Q2_K.gguf"
)

// Config represents the ox configuration file (~/.config/ox/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Sampling defaults
	Temperature    *float64       `yaml:"temperature"`
	Seed           *int64         `yaml:"seed"`
	ToSample       *int64         `yaml:"to_sample"`
	TopP           *float64       `yaml:"top_p"`
	RepeatPenalty  *float64       `yaml:"repeat_penalty"`
	RepeatLastN    *int64         `yaml:"repeat_last_n"`
	MaxSampled     *int64         `yaml:"max_sampled"`
	EOSToken       *string        `yaml:"eos_token"`
	HardStopID     *int64         `yaml:"hard_stop_id"`
	MaxContext     *int64         `yaml:"max_context"`
	RequestTimeout *time.Duration `yaml:"request_timeout"`

	// Artifacts
	TokenizerRepo     *string `yaml:"tokenizer_repo_id"`
	TokenizerRevision *string `yaml:"tokenizer_repo_revision"`
	TokenizerFile     *string `yaml:"tokenizer_file"`
	ModelRepo         *string `yaml:"model_repo_id"`
	ModelRevision     *string `yaml:"model_repo_revision"`
	ModelFile         *string `yaml:"model_file_name"`
	CacheDir          *string `yaml:"cache_dir"`
	HubEndpoint       *string `yaml:"hub_endpoint"`
	Backend           *string `yaml:"backend"`

	// Output
	StreamMode *string `yaml:"stream_mode"`
	LogLevel   *string `yaml:"log_level"`
	LogFormat  *string `yaml:"log_format"`

	// Server
	Host         *string  `yaml:"host"`
	Port         *int64   `yaml:"port"`
	DoneSentinel *bool    `yaml:"done_sentinel"`
	RateLimit    *float64 `yaml:"rate_limit"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ox", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config; a
// malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func setIfUnset[T any](c *cli.Command, name string, src *T, dst *T) {
	if src != nil && !c.IsSet(name) {
		*dst = *src
	}
}

// apply copies config file values into o for every flag the user did not set.
func (o *options) apply(c *cli.Command, cfg Config) {
	setIfUnset(c, "temperature", cfg.Temperature, &o.temperature)
	setIfUnset(c, "seed", cfg.Seed, &o.seed)
	setIfUnset(c, "to-sample", cfg.ToSample, &o.toSample)
	setIfUnset(c, "top-p", cfg.TopP, &o.topP)
	o.topPSet = c.IsSet("top-p") || cfg.TopP != nil
	setIfUnset(c, "repeat-penalty", cfg.RepeatPenalty, &o.repeatPenalty)
	setIfUnset(c, "repeat-last-n", cfg.RepeatLastN, &o.repeatLastN)
	setIfUnset(c, "max-sampled", cfg.MaxSampled, &o.maxSampled)
	setIfUnset(c, "eos-token", cfg.EOSToken, &o.eosToken)
	setIfUnset(c, "hard-stop-id", cfg.HardStopID, &o.hardStopID)
	setIfUnset(c, "max-context", cfg.MaxContext, &o.maxContext)
	setIfUnset(c, "request-timeout", cfg.RequestTimeout, &o.requestTimeout)

	setIfUnset(c, "tokenizer-repo-id", cfg.TokenizerRepo, &o.tokenizerRepo)
	setIfUnset(c, "tokenizer-repo-revision", cfg.TokenizerRevision, &o.tokenizerRevision)
	setIfUnset(c, "tokenizer-file", cfg.TokenizerFile, &o.tokenizerFile)
	setIfUnset(c, "model-repo-id", cfg.ModelRepo, &o.modelRepo)
	setIfUnset(c, "model-repo-revision", cfg.ModelRevision, &o.modelRevision)
	setIfUnset(c, "model-file-name", cfg.ModelFile, &o.modelFile)
	setIfUnset(c, "cache-dir", cfg.CacheDir, &o.cacheDir)
	setIfUnset(c, "hub-endpoint", cfg.HubEndpoint, &o.hubEndpoint)
	setIfUnset(c, "backend", cfg.Backend, &o.backend)

	setIfUnset(c, "stream-mode", cfg.StreamMode, &o.streamMode)
	setIfUnset(c, "log-level", cfg.LogLevel, &o.logLevel)
	setIfUnset(c, "log-format", cfg.LogFormat, &o.logFormat)
}

// apply copies config file values into the serve flags the user did not set.
func (s *serveOptions) apply(c *cli.Command, cfg Config) {
	setIfUnset(c, "host", cfg.Host, &s.host)
	setIfUnset(c, "port", cfg.Port, &s.port)
	setIfUnset(c, "done-sentinel", cfg.DoneSentinel, &s.doneSentinel)
	setIfUnset(c, "rate-limit", cfg.RateLimit, &s.rateLimit)
}
