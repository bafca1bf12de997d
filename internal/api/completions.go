package api

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/chenhunghan/oxpilot/internal/dispatch"
	"github.com/chenhunghan/oxpilot/internal/inference"
	"github.com/chenhunghan/oxpilot/internal/metrics"
)

func (s *Server) handleCompletions(c *echo.Context) error {
	req, err := decodeJSON[CompletionRequest](c.Request().Body)
	if err != nil {
		return writeRequestError(c, err)
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}
	params := inference.ResolveParams(inference.RequestOptions{
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}, s.cfg.Defaults)

	ctx := c.Request().Context()
	created := s.clock().Unix()
	base := Completion{
		ID:      "cmpl-" + uuid.NewString(),
		Object:  textCompletionObject,
		Created: created,
		Model:   model,
	}
	log := s.log.With("completion_id", base.ID, "model", model)
	if engine := c.Param("engine"); engine != "" {
		log = log.With("engine", engine)
	}

	ch, err := s.engine.Prompt(ctx, dispatch.Request{
		Prompt:      string(req.Prompt),
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxSampled:  params.MaxSampled,
	})
	switch {
	case errors.Is(err, dispatch.ErrClosed):
		metrics.RecordRejected("shutting_down")
		return writeError(c, http.StatusServiceUnavailable, "server_error", "server is shutting down", "", "")
	case err != nil && ctx.Err() != nil:
		log.Debug("client went away while queued", "error", err)
		return nil
	case err != nil:
		return writeRequestError(c, err)
	}

	w, err := NewSSEStreamWriter(c)
	if err != nil {
		go discard(ch)
		return writeBadRequest(c, err.Error())
	}
	return s.streamCompletion(ctx, w, ch, base)
}

// streamCompletion relays fragments as completion events. One fragment is
// held back so the final event can carry finish_reason; empty fragments are
// skipped and an incomplete UTF-8 tail waits for the bytes that finish it. A
// failed or abandoned request ends the stream without a finish_reason event.
func (s *Server) streamCompletion(ctx context.Context, w *SSEStreamWriter, ch <-chan dispatch.Fragment, base Completion) error {
	keepAlive := time.NewTicker(s.cfg.KeepAlive)
	defer keepAlive.Stop()

	var (
		pending string
		partial string
		held    bool
	)
	event := func(text string, finish *string) error {
		ev := base
		ev.Choices = []Choice{{Text: text, Index: 0, FinishReason: finish}}
		keepAlive.Reset(s.cfg.KeepAlive)
		return w.Event(ev)
	}
	flush := func() {
		if partial != "" {
			pending, held = pending+partial, true
			partial = ""
		}
	}

	for {
		select {
		case f, ok := <-ch:
			if !ok {
				flush()
				if held {
					_ = event(pending, nil)
				}
				return nil
			}
			if f.Done {
				flush()
				if f.Err != nil {
					s.log.Warn("completion failed", "completion_id", base.ID, "error", f.Err)
					if held {
						_ = event(pending, nil)
					}
					return nil
				}
				if held {
					reason := string(f.FinishReason)
					if err := event(pending, &reason); err != nil {
						return nil
					}
				}
				if s.cfg.DoneSentinel {
					_ = w.Done()
				}
				return nil
			}
			var complete string
			complete, partial = splitIncompleteRune(partial + f.Text)
			if complete == "" {
				continue
			}
			if held {
				if err := event(pending, nil); err != nil {
					go discard(ch)
					return nil
				}
			}
			pending, held = complete, true
		case <-keepAlive.C:
			if err := w.Comment("keep-alive"); err != nil {
				go discard(ch)
				return nil
			}
		case <-ctx.Done():
			go discard(ch)
			return nil
		}
	}
}

// splitIncompleteRune separates a trailing partial UTF-8 sequence from s.
func splitIncompleteRune(s string) (complete, tail string) {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(s[i]) {
			continue
		}
		if !utf8.FullRuneInString(s[i:]) {
			return s[:i], s[i:]
		}
		break
	}
	return s, ""
}

// discard drains an abandoned responder so the actor never blocks on it
// longer than the request context allows.
func discard(ch <-chan dispatch.Fragment) {
	for range ch {
	}
}
