// Package git runs the git binary for the commit workflow.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrNoStagedChanges = errors.New("no staged changes")

// Runner executes git with args in Dir and returns stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// Exec runs the git binary found on PATH.
type Exec struct {
	Binary string
	Dir    string
}

func (e Exec) Run(ctx context.Context, args ...string) ([]byte, error) {
	bin := e.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = e.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.Bytes(), nil
}

type Client struct {
	runner Runner
}

func New(r Runner) *Client {
	if r == nil {
		r = Exec{}
	}
	return &Client{runner: r}
}

// DiffArgs returns the arguments used to read the staged diff.
func DiffArgs(functionContext bool) []string {
	args := []string{
		"diff",
		"--staged",
		"--ignore-all-space",
		"--ignore-blank-lines",
		"--diff-algorithm=histogram",
		"--no-ext-diff",
		"--no-color",
	}
	if functionContext {
		args = append(args, "--function-context")
	}
	return args
}

// StagedDiff returns the staged diff or ErrNoStagedChanges when it is empty.
func (c *Client) StagedDiff(ctx context.Context, functionContext bool) (string, error) {
	out, err := c.runner.Run(ctx, DiffArgs(functionContext)...)
	if err != nil {
		return "", err
	}
	diff := string(out)
	if strings.TrimSpace(diff) == "" {
		return "", ErrNoStagedChanges
	}
	return diff, nil
}

// Commit records the staged changes with message and returns git's stdout.
func (c *Client) Commit(ctx context.Context, message string, signoff bool) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("empty commit message")
	}
	args := []string{"commit", "-m", message}
	if signoff {
		args = append(args, "--signoff")
	}
	out, err := c.runner.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
