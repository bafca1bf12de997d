package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chenhunghan/oxpilot/internal/dispatch"
	"github.com/chenhunghan/oxpilot/internal/inference"
)

func fragments(fs ...dispatch.Fragment) <-chan dispatch.Fragment {
	ch := make(chan dispatch.Fragment, len(fs))
	for _, f := range fs {
		ch <- f
	}
	close(ch)
	return ch
}

func TestStreamFragmentsInstant(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	text, reason, err := streamFragments(context.Background(), fragments(
		dispatch.Fragment{Text: "Hello"},
		dispatch.Fragment{Text: ""},
		dispatch.Fragment{Text: ", world"},
		dispatch.Fragment{Done: true, FinishReason: inference.FinishLength},
	), NewStreamWriter(&out, StreamInstant))
	require.NoError(t, err)
	require.Equal(t, inference.FinishLength, reason)
	require.Equal(t, "Hello, world", text)
	require.Equal(t, "Hello, world\n", out.String())
}

func TestStreamFragmentsKeepsExistingNewline(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, _, err := streamFragments(context.Background(), fragments(
		dispatch.Fragment{Text: "line\n"},
		dispatch.Fragment{Done: true, FinishReason: inference.FinishStop},
	), NewStreamWriter(&out, StreamQuiet))
	require.NoError(t, err)
	require.Equal(t, "line\n", out.String())
}

func TestStreamFragmentsError(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	boom := errors.New("forward failed")
	_, _, err := streamFragments(context.Background(), fragments(
		dispatch.Fragment{Text: "partial"},
		dispatch.Fragment{Done: true, Err: boom},
	), NewStreamWriter(&out, StreamInstant))
	require.ErrorIs(t, err, boom)
	require.Equal(t, "partial\n", out.String())
}

func TestStreamFragmentsCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan dispatch.Fragment)
	var out bytes.Buffer
	_, _, err := streamFragments(ctx, ch, NewStreamWriter(&out, StreamInstant))
	require.ErrorIs(t, err, context.Canceled)
	close(ch)
}

func TestParseStreamMode(t *testing.T) {
	t.Parallel()

	m, err := parseStreamMode("QUIET")
	require.NoError(t, err)
	require.Equal(t, StreamQuiet, m)

	m, err = parseStreamMode("")
	require.NoError(t, err)
	require.Equal(t, StreamInstant, m)

	_, err = parseStreamMode("typewriter")
	require.Error(t, err)
}
