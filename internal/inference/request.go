package inference

import "time"

// Params are the per-request overrides of GenerationConfig.
type Params struct {
	Temperature float64
	TopP        *float64
	MaxSampled  int
	// Deadline stops generation with FinishLength once passed. Zero means
	// GenerationConfig.RequestTimeout from the start of Run.
	Deadline time.Time
}

// RequestOptions mirrors Params with optional fields, as decoded from a front
// end that may leave any of them unset.
type RequestOptions struct {
	Temperature *float64
	TopP        *float64
	MaxSampled  *int
}

// ResolveParams fills unset options from the process defaults. Out-of-range
// values are clamped rather than rejected so lenient clients keep working.
func ResolveParams(opts RequestOptions, cfg GenerationConfig) Params {
	p := Params{
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxSampled:  cfg.MaxSampled,
	}

	if opts.Temperature != nil {
		p.Temperature = max(*opts.Temperature, 0)
	}
	if opts.TopP != nil {
		if v := *opts.TopP; v > 0 && v < 1 {
			p.TopP = &v
		} else {
			p.TopP = nil
		}
	}
	if opts.MaxSampled != nil {
		p.MaxSampled = max(*opts.MaxSampled, 0)
	}

	return p
}
