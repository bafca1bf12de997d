package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// stdinReader is shared so buffered input is not lost between prompts.
var stdinReader = bufio.NewReader(os.Stdin)

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = func() bool { return isTTY(os.Stdin) }

func readPlainLine(r *bufio.Reader, prompt, initial string) (string, error) {
	if prompt != "" {
		_, _ = fmt.Fprint(os.Stderr, prompt)
	}
	s, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if err == io.EOF && s == "" {
		return "", io.EOF
	}
	s = trimTrailingNewline(s)
	if strings.TrimSpace(s) == "" {
		return initial, nil
	}
	return s, nil
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}

func isTTY(f *os.File) bool {
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}

func stderrIsTTY() bool { return isTTY(os.Stderr) }
