package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/chenhunghan/oxpilot/internal/inference"
)

// Command is a message for the actor. Prompt is the only variant.
type Command interface {
	validate() error
}

// Prompt asks the actor to generate a completion. Ownership passes to the
// dispatcher on Submit; the actor closes Responder exactly once.
type Prompt struct {
	// Context cancels the request. Once it is done the actor abandons the
	// generation without sending a terminal fragment.
	Context     context.Context
	ID          string
	Prompt      string
	Temperature float64
	TopP        *float64
	MaxSampled  int
	Responder   chan<- Fragment
}

func (p *Prompt) validate() error {
	if p.Responder == nil {
		return fmt.Errorf("prompt command without responder")
	}
	return nil
}

// Request is the caller-side description of a Prompt.
type Request struct {
	Prompt      string
	Temperature float64
	TopP        *float64
	MaxSampled  int
}

// Fragment is one item on a responder channel. Text fragments have Done
// false; the final fragment has Done set and carries either FinishReason or Err.
type Fragment struct {
	Text         string
	Done         bool
	FinishReason inference.FinishReason
	Err          error
}

// Collect drains ch into a single string. It returns the finish reason of the
// terminal fragment, or the request error. A channel that closes without a
// terminal fragment yields ctx.Err() when ctx is done and an error otherwise.
func Collect(ctx context.Context, ch <-chan Fragment) (string, inference.FinishReason, error) {
	var b strings.Builder
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return b.String(), "", err
				}
				return b.String(), "", fmt.Errorf("responder closed without a result")
			}
			if f.Done {
				return b.String(), f.FinishReason, f.Err
			}
			b.WriteString(f.Text)
		case <-ctx.Done():
			return b.String(), "", ctx.Err()
		}
	}
}
