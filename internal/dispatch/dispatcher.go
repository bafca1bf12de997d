package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chenhunghan/oxpilot/internal/inference"
	"github.com/chenhunghan/oxpilot/internal/logger"
	"github.com/chenhunghan/oxpilot/internal/metrics"
)

const (
	DefaultQueueSize = 32
	// ResponderCapacity is the buffer of responder channels created by Prompt.
	ResponderCapacity = 8
)

var ErrClosed = errors.New("dispatcher closed")

// Runner is the decode loop the actor drives. *inference.Generator satisfies it.
type Runner interface {
	Run(ctx context.Context, prompt string, p inference.Params, emit inference.EmitFunc) (inference.Result, error)
}

type Options struct {
	QueueSize int
	// RequestTimeout bounds generation time measured from dequeue. Zero disables it.
	RequestTimeout time.Duration
	Logger         logger.Logger
}

// Dispatcher is the single owner of a Runner. Commands are served strictly one
// at a time in arrival order by the goroutine that calls Run.
type Dispatcher struct {
	runner  Runner
	timeout time.Duration
	log     logger.Logger

	queue   chan envelope
	closing chan struct{}
	done    chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	depth     atomic.Int64

	now func() time.Time
}

type envelope struct {
	cmd Command
	at  time.Time
}

func New(r Runner, opts Options) *Dispatcher {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{
		runner:  r,
		timeout: opts.RequestTimeout,
		log:     log.With("component", "dispatch"),
		queue:   make(chan envelope, size),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Submit enqueues cmd, blocking while the queue is full. It fails with
// ErrClosed once Close has been called and with ctx.Err() if ctx ends first.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("nil command")
	}
	if err := cmd.validate(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	// Counted before the send; Run decrements after receiving.
	metrics.QueueDepth.Set(float64(d.depth.Add(1)))
	select {
	case d.queue <- envelope{cmd: cmd, at: d.now()}:
		return nil
	case <-d.closing:
		metrics.QueueDepth.Set(float64(d.depth.Add(-1)))
		return ErrClosed
	case <-ctx.Done():
		metrics.QueueDepth.Set(float64(d.depth.Add(-1)))
		return ctx.Err()
	}
}

// Prompt allocates a responder, submits a Prompt command and returns the
// receive side. The channel yields text fragments, then at most one terminal
// fragment, and is closed by the actor.
func (d *Dispatcher) Prompt(ctx context.Context, req Request) (<-chan Fragment, error) {
	ch := make(chan Fragment, ResponderCapacity)
	cmd := &Prompt{
		Context:     ctx,
		ID:          uuid.NewString(),
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxSampled:  req.MaxSampled,
		Responder:   ch,
	}
	if err := d.Submit(ctx, cmd); err != nil {
		return nil, err
	}
	return ch, nil
}

// Run consumes commands until the queue is closed and drained. It must be
// called from exactly one goroutine. ctx only scopes logging; in-flight and
// queued commands are always served to completion (or abandonment).
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	d.log.Debug("actor started")
	for env := range d.queue {
		metrics.QueueDepth.Set(float64(d.depth.Add(-1)))
		metrics.RecordQueueWait(d.now().Sub(env.at))
		switch cmd := env.cmd.(type) {
		case *Prompt:
			d.servePrompt(ctx, cmd)
		default:
			d.log.Warn("dropping unknown command", "type", fmt.Sprintf("%T", cmd))
		}
	}
	d.log.Debug("actor stopped")
	return nil
}

// Close stops accepting commands. Queued commands are still served by Run.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closing)
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) QueueDepth() int {
	return int(d.depth.Load())
}

func (d *Dispatcher) servePrompt(ctx context.Context, p *Prompt) {
	defer close(p.Responder)

	reqCtx := p.Context
	if reqCtx == nil {
		reqCtx = context.Background()
	}
	log := d.log.With("request_id", p.ID)
	start := d.now()

	if err := reqCtx.Err(); err != nil {
		log.Debug("request abandoned before start", "error", err)
		metrics.RecordRequest(metrics.OutcomeAbandoned, 0, 0, 0)
		return
	}

	params := inference.Params{
		Temperature: p.Temperature,
		TopP:        p.TopP,
		MaxSampled:  p.MaxSampled,
	}
	if d.timeout > 0 {
		params.Deadline = start.Add(d.timeout)
	}

	log.Debug("request started", "max_sampled", p.MaxSampled, "temperature", p.Temperature)
	res, err := d.safeRun(logger.WithContext(reqCtx, log), p.Prompt, params, func(text string) error {
		return send(reqCtx, p.Responder, Fragment{Text: text})
	})
	elapsed := d.now().Sub(start)

	if err != nil && reqCtx.Err() != nil && isContextErr(err) {
		log.Debug("request abandoned", "emitted", res.Emitted, "error", err)
		metrics.RecordRequest(metrics.OutcomeAbandoned, res.Emitted, res.PromptTokens, elapsed)
		return
	}
	if err != nil {
		log.Error("request failed", "emitted", res.Emitted, "error", err)
		metrics.RecordRequest(metrics.OutcomeError, res.Emitted, res.PromptTokens, elapsed)
		_ = send(reqCtx, p.Responder, Fragment{Done: true, Err: err})
		return
	}

	log.Debug("request finished",
		"prompt_tokens", res.PromptTokens,
		"truncated", res.Truncated,
		"emitted", res.Emitted,
		"finish_reason", string(res.FinishReason),
		"elapsed", elapsed,
	)
	metrics.RecordRequest(string(res.FinishReason), res.Emitted, res.PromptTokens, elapsed)
	_ = send(reqCtx, p.Responder, Fragment{Done: true, FinishReason: res.FinishReason})
}

func (d *Dispatcher) safeRun(ctx context.Context, prompt string, p inference.Params, emit inference.EmitFunc) (res inference.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in decode loop: %v", rec)
		}
	}()
	return d.runner.Run(ctx, prompt, p, emit)
}

// send blocks until the consumer takes f or the request is cancelled.
func send(ctx context.Context, ch chan<- Fragment, f Fragment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
