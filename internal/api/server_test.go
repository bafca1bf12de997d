package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/chenhunghan/oxpilot/internal/dispatch"
	"github.com/chenhunghan/oxpilot/internal/inference"
	"github.com/chenhunghan/oxpilot/internal/logger"
)

// scriptedPrompter replays fixed fragments and records the submitted request.
type scriptedPrompter struct {
	mu     sync.Mutex
	frags  []dispatch.Fragment
	delay  time.Duration
	err    error
	last   dispatch.Request
	called int
}

func (p *scriptedPrompter) Prompt(ctx context.Context, req dispatch.Request) (<-chan dispatch.Fragment, error) {
	p.mu.Lock()
	p.last = req
	p.called++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan dispatch.Fragment, len(p.frags))
	go func() {
		defer close(ch)
		if p.delay > 0 {
			time.Sleep(p.delay)
		}
		for _, f := range p.frags {
			ch <- f
		}
	}()
	return ch, nil
}

func (p *scriptedPrompter) QueueDepth() int { return 3 }

func text(s string) dispatch.Fragment { return dispatch.Fragment{Text: s} }

func stop(reason inference.FinishReason) dispatch.Fragment {
	return dispatch.Fragment{Done: true, FinishReason: reason}
}

func newTestEcho(p Prompter, cfg Config) *echo.Echo {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Defaults.MaxSampled == 0 {
		cfg.Defaults = inference.DefaultGenerationConfig()
	}
	server := NewServer(p, cfg)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type sseStream struct {
	events   []Completion
	comments []string
	done     bool
}

func parseSSE(t *testing.T, body string) sseStream {
	t.Helper()
	var out sseStream
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		switch {
		case block == "":
		case strings.HasPrefix(block, ":"):
			out.comments = append(out.comments, strings.TrimSpace(strings.TrimPrefix(block, ":")))
		case block == "data: [DONE]":
			out.done = true
		case strings.HasPrefix(block, "data: "):
			var ev Completion
			if err := json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &ev); err != nil {
				t.Fatalf("decode event %q: %v", block, err)
			}
			out.events = append(out.events, ev)
		default:
			t.Fatalf("unexpected SSE block %q", block)
		}
	}
	return out
}

// tagModel and tagTokenizer drive a real decode loop behind a real actor.
type tagModel struct{ calls int }

func (m *tagModel) Forward(tokens []int, pos int) ([]float32, error) {
	m.calls++
	out := make([]float32, 16)
	out[3+m.calls%5] = 12
	return out, nil
}

func (m *tagModel) MaxSeqLen() int { return 2048 }

type tagTokenizer struct{}

func (tagTokenizer) Encode(text string) ([]int, error) {
	ids := []int{1}
	for range strings.Fields(text) {
		ids = append(ids, 4)
	}
	return ids, nil
}

func (tagTokenizer) DecodeOne(id int) (string, error) { return fmt.Sprintf("t%d ", id), nil }
func (tagTokenizer) TokenID(string) (int, bool)       { return -1, false }

func TestCompletionsStreamEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := inference.DefaultGenerationConfig()
	cfg.MaxSampled = 16
	gen := inference.NewGenerator(&tagModel{}, tagTokenizer{}, cfg, logger.Discard())
	d := dispatch.New(gen, dispatch.Options{Logger: logger.Discard()})
	go func() { _ = d.Run(context.Background()) }()
	t.Cleanup(func() {
		d.Close()
		<-d.Done()
	})

	e := newTestEcho(d, Config{Defaults: cfg})
	before := time.Now().Unix()
	rec := doJSON(t, e, http.MethodPost, "/v1/completions",
		`{"prompt":"Hello, world!","model":"code-llama-7b","stream":true,"max_tokens":16}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/event-stream")

	stream := parseSSE(t, rec.Body.String())
	require.Len(t, stream.events, 16)
	id := stream.events[0].ID
	require.True(t, strings.HasPrefix(id, "cmpl-"))
	for i, ev := range stream.events {
		require.Equal(t, "code-llama-7b", ev.Model)
		require.Equal(t, "text_completion", ev.Object)
		require.Equal(t, id, ev.ID)
		require.GreaterOrEqual(t, ev.Created, before)
		require.Len(t, ev.Choices, 1)
		require.NotEmpty(t, ev.Choices[0].Text)
		require.Nil(t, ev.Choices[0].Logprobs)
		require.Zero(t, ev.Usage.TotalTokens)
		if i < len(stream.events)-1 {
			require.Nil(t, ev.Choices[0].FinishReason)
		}
	}
	last := stream.events[len(stream.events)-1]
	require.NotNil(t, last.Choices[0].FinishReason)
	require.Equal(t, "length", *last.Choices[0].FinishReason)
	require.False(t, stream.done)
}

func TestEnginesRouteDefaultsModel(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{frags: []dispatch.Fragment{text("def "), text("main"), stop(inference.FinishStop)}}
	e := newTestEcho(p, Config{})
	rec := doJSON(t, e, http.MethodPost, "/v1/engines/copilot-codex/completions", `{"prompt":["def", " x"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stream := parseSSE(t, rec.Body.String())
	require.Len(t, stream.events, 2)
	for _, ev := range stream.events {
		require.Equal(t, "unknown", ev.Model)
	}
	require.Equal(t, "def x", p.last.Prompt)
	require.Equal(t, "stop", *stream.events[1].Choices[0].FinishReason)
}

func TestCompletionsLookaheadSkipsEmptyAndSendsDone(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{frags: []dispatch.Fragment{text("Hel"), text(""), text("lo"), stop(inference.FinishStop)}}
	e := newTestEcho(p, Config{DoneSentinel: true})
	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi"}`)

	stream := parseSSE(t, rec.Body.String())
	require.Len(t, stream.events, 2)
	require.Equal(t, "Hel", stream.events[0].Choices[0].Text)
	require.Nil(t, stream.events[0].Choices[0].FinishReason)
	require.Equal(t, "lo", stream.events[1].Choices[0].Text)
	require.Equal(t, "stop", *stream.events[1].Choices[0].FinishReason)
	require.True(t, stream.done)
	require.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))
}

func TestCompletionsFailureHasNoFinishEvent(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{frags: []dispatch.Fragment{text("partial"), {Done: true, Err: fmt.Errorf("forward failed")}}}
	e := newTestEcho(p, Config{DoneSentinel: true})
	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi"}`)

	stream := parseSSE(t, rec.Body.String())
	require.Len(t, stream.events, 1)
	require.Equal(t, "partial", stream.events[0].Choices[0].Text)
	require.Nil(t, stream.events[0].Choices[0].FinishReason)
	require.False(t, stream.done)
}

func TestCompletionsKeepAlive(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{delay: 80 * time.Millisecond, frags: []dispatch.Fragment{text("late"), stop(inference.FinishStop)}}
	e := newTestEcho(p, Config{KeepAlive: 10 * time.Millisecond})
	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi"}`)

	stream := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, stream.comments)
	require.Equal(t, "keep-alive", stream.comments[0])
	require.Len(t, stream.events, 1)
}

func TestCompletionsWiresSamplingParams(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{frags: []dispatch.Fragment{stop(inference.FinishStop)}}
	e := newTestEcho(p, Config{})
	rec := doJSON(t, e, http.MethodPost, "/v1/completions",
		`{"prompt":"x","temperature":0.2,"top_p":0.5,"max_tokens":3,"n":2,"logit_bias":{"50256":-100},"stop":["\n"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, 0.2, p.last.Temperature)
	require.NotNil(t, p.last.TopP)
	require.Equal(t, 0.5, *p.last.TopP)
	require.Equal(t, inference.DefaultMaxSampled, p.last.MaxSampled, "max_tokens is accepted but not wired")
}

func TestCompletionsRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{}
	e := newTestEcho(p, Config{})
	for _, body := range []string{`{"prompt":`, ``, `{"prompt":42}`} {
		rec := doJSON(t, e, http.MethodPost, "/v1/completions", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)

		var payload struct {
			Error ResponseError `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		require.Equal(t, "invalid_request_error", payload.Error.Type)
	}
	require.Zero(t, p.called)
}

func TestCompletionsWhenShuttingDown(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&scriptedPrompter{err: dispatch.ErrClosed}, Config{})
	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"x"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{frags: []dispatch.Fragment{stop(inference.FinishStop)}}
	e := newTestEcho(p, Config{RateLimit: 0.001, Burst: 1})

	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"x"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, 1, p.called)

	rec = doJSON(t, e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code, "health checks are not rate limited")
}

func TestModelsHealthAndMetrics(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&scriptedPrompter{}, Config{ModelName: "codellama-7b.Q2_K.gguf"})

	rec := doJSON(t, e, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var models ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	require.Equal(t, "list", models.Object)
	require.Len(t, models.Data, 1)
	require.Equal(t, "codellama-7b.Q2_K.gguf", models.Data[0].ID)

	rec = doJSON(t, e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "ok", health["status"])
	require.EqualValues(t, 3, health["queue_depth"])

	rec = doJSON(t, e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ox_queue_depth")
}

func TestCompletionsJoinsSplitMultibyteRunes(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{frags: []dispatch.Fragment{
		text("a"), text("\xe4"), text("\xbd"), text("\xa0"), text("\xf0\x9f"), text("\x98\x80b"),
		stop(inference.FinishStop),
	}}
	e := newTestEcho(p, Config{})
	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stream := parseSSE(t, rec.Body.String())
	var joined strings.Builder
	for _, ev := range stream.events {
		require.NotEmpty(t, ev.Choices[0].Text)
		joined.WriteString(ev.Choices[0].Text)
	}
	require.Equal(t, "a你😀b", joined.String())
	require.Equal(t, "stop", *stream.events[len(stream.events)-1].Choices[0].FinishReason)
}

func TestCompletionsWithoutTextSendsNoEvents(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{frags: []dispatch.Fragment{text(""), stop(inference.FinishStop)}}
	e := newTestEcho(p, Config{DoneSentinel: true})
	rec := doJSON(t, e, http.MethodPost, "/v1/completions", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stream := parseSSE(t, rec.Body.String())
	require.Empty(t, stream.events)
	require.True(t, stream.done)
}

func TestSplitIncompleteRune(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, complete, tail string }{
		{"", "", ""},
		{"abc", "abc", ""},
		{"a\xe4", "a", "\xe4"},
		{"a\xe4\xbd", "a", "\xe4\xbd"},
		{"a\xe4\xbd\xa0", "a\xe4\xbd\xa0", ""},
		{"\xff", "\xff", ""},
	}
	for _, c := range cases {
		complete, tail := splitIncompleteRune(c.in)
		if complete != c.complete || tail != c.tail {
			t.Fatalf("splitIncompleteRune(%q) = %q, %q; want %q, %q", c.in, complete, tail, c.complete, c.tail)
		}
	}
}
