package api

import (
	"strings"

	"github.com/goccy/go-json"
)

const (
	defaultModel         = "unknown"
	textCompletionObject = "text_completion"
)

// CompletionRequest is the body of POST /v1/completions. Only prompt, model,
// temperature and top_p influence generation; the remaining fields are
// accepted so that existing OpenAI clients can talk to the server unchanged.
type CompletionRequest struct {
	Prompt           PromptInput        `json:"prompt"`
	Model            string             `json:"model"`
	Suffix           *string            `json:"suffix,omitempty"`
	MaxTokens        *int               `json:"max_tokens,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	MirostatMode     *int               `json:"mirostat_mode,omitempty"`
	MirostatTau      *float64           `json:"mirostat_tau,omitempty"`
	MirostatEta      *float64           `json:"mirostat_eta,omitempty"`
	Echo             *bool              `json:"echo,omitempty"`
	Stream           *bool              `json:"stream,omitempty"`
	Stop             any                `json:"stop,omitempty"`
	Logprobs         *int               `json:"logprobs,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
	TopK             *int               `json:"top_k,omitempty"`
	RepeatPenalty    *float64           `json:"repeat_penalty,omitempty"`
	LastNTokens      *int               `json:"last_n_tokens,omitempty"`
	LogitBiasType    *string            `json:"logit_bias_type,omitempty"`
	N                *int               `json:"n,omitempty"`
	BestOf           *int               `json:"best_of,omitempty"`
	Seed             *int64             `json:"seed,omitempty"`
	User             string             `json:"user,omitempty"`
}

// PromptInput accepts a string, an array of strings (joined) or null.
type PromptInput string

func (p *PromptInput) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = PromptInput(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(b, &parts); err != nil {
		return newInvalidRequest("prompt must be a string or an array of strings")
	}
	*p = PromptInput(strings.Join(parts, ""))
	return nil
}

// Completion is one SSE event of a text completion stream.
type Completion struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage"`
	SystemFingerprint string   `json:"system_fingerprint"`
}

type Choice struct {
	Text         string    `json:"text"`
	Index        int       `json:"index"`
	Logprobs     *Logprobs `json:"logprobs"`
	FinishReason *string   `json:"finish_reason"`
}

type Logprobs struct {
	Tokens        []string  `json:"tokens"`
	TokenLogprobs []float64 `json:"token_logprobs"`
	TopLogprobs   []any     `json:"top_logprobs"`
	TextOffset    []int     `json:"text_offset"`
}

// Usage counters are not computed and always report zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}
