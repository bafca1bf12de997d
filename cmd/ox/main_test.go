package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	require.NoError(t, app.Run(context.Background(), []string{"ox", "version"}))
	require.Contains(t, out.String(), "version:")
	require.Contains(t, out.String(), "go:")
}

func TestAppRegistersCommands(t *testing.T) {
	t.Parallel()

	app := newApp()
	names := map[string]bool{}
	for _, c := range app.Commands {
		names[c.Name] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["commit"])
	require.True(t, names["version"])
}
