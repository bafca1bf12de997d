package commitmsg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chenhunghan/oxpilot/internal/dispatch"
	"github.com/chenhunghan/oxpilot/internal/inference"
)

type scripted struct {
	replies []string
	temps   []float64
}

func (s *scripted) Generate(_ context.Context, _ string, temperature float64) (string, error) {
	s.temps = append(s.temps, temperature)
	if len(s.replies) == 0 {
		return "", errors.New("no more replies")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func TestValid(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"fix: correct off-by-one in parser":  true,
		"feat(api): add models route":        true,
		"refactor!: drop legacy config":      true,
		"chore(deps)!: bump echo":            true,
		"fx: typo":                           false,
		"fix:missing space":                  false,
		"Fix: capitalised type":              false,
		"update stuff":                       false,
		"feat(): empty scope still allowed":  true,
		"docs: readme\n\nlonger body text":   true,
		"":                                   false,
	}
	for msg, want := range cases {
		require.Equal(t, want, Valid(msg), "message %q", msg)
	}
}

func TestWorkflowRetriesExactlyOnce(t *testing.T) {
	t.Parallel()

	gen := &scripted{replies: []string{"fx: typo", "also bad", "fix: never requested"}}
	var attempts []int
	w := &Workflow{Generator: gen, Temperature: 1.0, OnAttempt: func(n int, _ float64) { attempts = append(attempts, n) }}

	res, err := w.Run(context.Background(), "prompt")
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, []int{1, 2}, attempts)
	require.Equal(t, []float64{1.0, 1.5}, gen.temps)
	require.False(t, res.Valid)
	require.Equal(t, "also bad", res.Message)
}

func TestWorkflowValidFirstAttempt(t *testing.T) {
	t.Parallel()

	gen := &scripted{replies: []string{"fix: correct off-by-one in parser"}}
	w := &Workflow{Generator: gen, Temperature: 0.7}

	res, err := w.Run(context.Background(), "prompt")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Len(t, res.Attempts, 1)
	require.Equal(t, []float64{0.7}, gen.temps)
}

func TestWorkflowRetryCanSucceed(t *testing.T) {
	t.Parallel()

	gen := &scripted{replies: []string{"fx: typo", "```\nfix: typo in readme\n```"}}
	res, err := (&Workflow{Generator: gen, Temperature: 1.8}).Run(context.Background(), "prompt")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, "fix: typo in readme", res.Message)
	require.Equal(t, []float64{1.8, MaxTemperature}, gen.temps)
}

func TestWorkflowPropagatesErrors(t *testing.T) {
	t.Parallel()

	_, err := (&Workflow{Generator: &scripted{}}).Run(context.Background(), "prompt")
	require.ErrorContains(t, err, "attempt 1")
}

func TestClean(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{" feat: add x </s>", "feat: add x"},
		{"Commit message: fix: y", "fix: y"},
		{"\"docs: z\"", "docs: z"},
		{"<think>hmm</think>\nchore: tidy", "chore: tidy"},
		{"fix: a\n\n\nbody line\n", "fix: a\n\nbody line"},
		{"```text\nci: cache\n```", "ci: cache"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Clean(tc.in), "input %q", tc.in)
	}
}

type fakePrompter struct {
	frags []dispatch.Fragment
	got   dispatch.Request
}

func (f *fakePrompter) Prompt(_ context.Context, req dispatch.Request) (<-chan dispatch.Fragment, error) {
	f.got = req
	ch := make(chan dispatch.Fragment, len(f.frags))
	for _, fr := range f.frags {
		ch <- fr
	}
	close(ch)
	return ch, nil
}

func TestFromPrompter(t *testing.T) {
	t.Parallel()

	p := &fakePrompter{frags: []dispatch.Fragment{
		{Text: "fix"}, {Text: ": "}, {Text: "thing"},
		{Done: true, FinishReason: inference.FinishStop},
	}}
	text, err := FromPrompter(p, 64, nil).Generate(context.Background(), "prompt", 0.3)
	require.NoError(t, err)
	require.Equal(t, "fix: thing", text)
	require.Equal(t, 64, p.got.MaxSampled)
	require.Equal(t, 0.3, p.got.Temperature)

	p = &fakePrompter{frags: []dispatch.Fragment{{Text: "x"}, {Done: true, Err: errors.New("forward failed")}}}
	_, err = FromPrompter(p, 64, nil).Generate(context.Background(), "prompt", 0.3)
	require.ErrorContains(t, err, "forward failed")
}
