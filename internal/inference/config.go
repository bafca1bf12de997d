package inference

import (
	"fmt"
	"time"
)

const (
	DefaultSeed          int64   = 299792458
	DefaultTemperature   float64 = 1.0
	DefaultRepeatPenalty float64 = 1.1
	DefaultRepeatLastN           = 64
	DefaultToSample              = 1000
	DefaultMaxSampled            = 512
	DefaultEOSToken              = "</s>"
	DefaultHardStopID            = 32000
	DefaultRequestTimeout        = 5 * time.Minute
)

// GenerationConfig holds the process-wide generation defaults. It is set once
// at startup and only read afterwards.
type GenerationConfig struct {
	Seed          int64
	Temperature   float64
	TopP          *float64
	RepeatPenalty float64
	RepeatLastN   int
	// EOSToken is resolved to an id through the tokenizer for every request.
	EOSToken string
	// HardStopID is a reserved id that always ends generation. Negative disables it.
	HardStopID int
	// ToSample caps decode iterations after the first token.
	ToSample int
	// MaxSampled caps emitted tokens when a request does not set its own.
	MaxSampled int
	// MaxContext further restricts the model window when positive.
	MaxContext     int
	RequestTimeout time.Duration
}

func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Seed:           DefaultSeed,
		Temperature:    DefaultTemperature,
		RepeatPenalty:  DefaultRepeatPenalty,
		RepeatLastN:    DefaultRepeatLastN,
		EOSToken:       DefaultEOSToken,
		HardStopID:     DefaultHardStopID,
		ToSample:       DefaultToSample,
		MaxSampled:     DefaultMaxSampled,
		RequestTimeout: DefaultRequestTimeout,
	}
}

func (c GenerationConfig) Validate() error {
	if c.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0, got %g", c.Temperature)
	}
	if c.TopP != nil && (*c.TopP <= 0 || *c.TopP > 1) {
		return fmt.Errorf("top-p must be in (0, 1], got %g", *c.TopP)
	}
	if c.RepeatPenalty <= 0 {
		return fmt.Errorf("repeat penalty must be > 0, got %g", c.RepeatPenalty)
	}
	if c.RepeatLastN < 0 {
		return fmt.Errorf("repeat-last-n must be >= 0, got %d", c.RepeatLastN)
	}
	if c.ToSample < 0 {
		return fmt.Errorf("to-sample must be >= 0, got %d", c.ToSample)
	}
	if c.MaxSampled < 0 {
		return fmt.Errorf("max-sampled must be >= 0, got %d", c.MaxSampled)
	}
	if c.MaxContext < 0 {
		return fmt.Errorf("max-context must be >= 0, got %d", c.MaxContext)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be >= 0, got %s", c.RequestTimeout)
	}
	return nil
}
