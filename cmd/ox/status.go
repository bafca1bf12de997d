package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const (
	ansiGreen = "\x1b[32m"
	ansiBlue  = "\x1b[34m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
	clearLine = "\r\x1b[K"
)

// Spinner draws a one-line progress indicator. A silent Spinner does nothing,
// so callers need not check whether output is a terminal.
type Spinner struct {
	w      io.Writer
	silent bool

	mu      sync.Mutex
	message string
	color   string
	stop    chan struct{}
	done    chan struct{}
}

func NewSpinner(w io.Writer, silent bool, message string) *Spinner {
	s := &Spinner{w: w, silent: silent, message: message, color: ansiGreen}
	if silent {
		return s
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop)
	return s
}

func (s *Spinner) loop(stop <-chan struct{}) {
	defer close(s.done)
	t := time.NewTicker(80 * time.Millisecond)
	defer t.Stop()
	for i := 0; ; i++ {
		s.mu.Lock()
		_, _ = fmt.Fprintf(s.w, "%s%s%s%s %s", clearLine, s.color, spinnerFrames[i%len(spinnerFrames)], ansiReset, s.message)
		s.mu.Unlock()
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

func (s *Spinner) Update(message string) {
	if s.silent {
		return
	}
	s.mu.Lock()
	s.message, s.color = message, ansiBlue
	s.mu.Unlock()
}

func (s *Spinner) Success(message string) { s.finish(ansiGreen+"✔"+ansiReset, message) }

func (s *Spinner) Fail(message string) { s.finish(ansiRed+"✖"+ansiReset, message) }

// Stop clears the line without a final message.
func (s *Spinner) Stop() {
	if s.silent || !s.halt() {
		return
	}
	_, _ = fmt.Fprint(s.w, clearLine)
}

func (s *Spinner) finish(symbol, message string) {
	if s.silent || !s.halt() {
		return
	}
	_, _ = fmt.Fprintf(s.w, "%s%s %s\n", clearLine, symbol, message)
}

func (s *Spinner) halt() bool {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return false
	}
	close(stop)
	<-s.done
	return true
}
