package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chenhunghan/oxpilot/internal/dispatch"
	"github.com/chenhunghan/oxpilot/internal/inference"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamQuiet   StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case StreamInstant, "":
		return StreamInstant, nil
	case StreamQuiet:
		return StreamQuiet, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (want instant or quiet)", s)
	}
}

// StreamWriter prints generated fragments. Instant mode flushes every
// fragment as it arrives; quiet mode prints the whole text at the end.
type StreamWriter struct {
	mode   StreamMode
	buffer *bufio.Writer

	accumulator strings.Builder
	lastByte    byte
}

func NewStreamWriter(w io.Writer, mode StreamMode) *StreamWriter {
	return &StreamWriter{
		mode:   mode,
		buffer: bufio.NewWriterSize(w, 4096),
	}
}

// Write handles a single fragment.
func (w *StreamWriter) Write(text string) error {
	if text == "" {
		return nil
	}
	w.accumulator.WriteString(text)
	w.lastByte = text[len(text)-1]
	if w.mode == StreamQuiet {
		return nil
	}
	if _, err := w.buffer.WriteString(text); err != nil {
		return err
	}
	return w.buffer.Flush()
}

// Finish writes anything still held and guarantees the output ends with a
// newline. It returns the full text.
func (w *StreamWriter) Finish() (string, error) {
	text := w.accumulator.String()
	if w.mode == StreamQuiet {
		if _, err := w.buffer.WriteString(text); err != nil {
			return text, err
		}
	}
	if text != "" && w.lastByte != '\n' {
		if err := w.buffer.WriteByte('\n'); err != nil {
			return text, err
		}
	}
	return text, w.buffer.Flush()
}

// streamFragments copies a responder channel to w until the terminal
// fragment or channel close. The trailing newline is written even when the
// stream ends with an error.
func streamFragments(ctx context.Context, ch <-chan dispatch.Fragment, w *StreamWriter) (string, inference.FinishReason, error) {
	var (
		reason inference.FinishReason
		err    error
	)
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			go discard(ch)
			break loop
		case f, ok := <-ch:
			if !ok {
				break loop
			}
			if f.Done {
				reason, err = f.FinishReason, f.Err
				continue
			}
			if werr := w.Write(f.Text); werr != nil {
				err = werr
				go discard(ch)
				break loop
			}
		}
	}
	text, ferr := w.Finish()
	if err == nil {
		err = ferr
	}
	return text, reason, err
}

func discard(ch <-chan dispatch.Fragment) {
	for range ch {
	}
}
