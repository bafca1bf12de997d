package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/chenhunghan/oxpilot/internal/logger"
	"github.com/chenhunghan/oxpilot/internal/prompt"
)

// runPrompt answers the positional arguments as a single instruction and
// streams the reply to stdout.
func runPrompt(ctx context.Context, cmd *cli.Command, o *options) error {
	ctx, _, err := o.prepare(ctx, cmd)
	if err != nil {
		return err
	}
	mode, err := parseStreamMode(o.streamMode)
	if err != nil {
		return err
	}

	eng, err := o.newEngine(ctx)
	if err != nil {
		return err
	}
	stop := eng.start(ctx)
	defer stop()

	ch, err := eng.Prompt(ctx, eng.request(prompt.AdHoc(cmd.Args().Slice())))
	if err != nil {
		return err
	}
	_, reason, err := streamFragments(ctx, ch, NewStreamWriter(os.Stdout, mode))
	logger.FromContext(ctx).Debug("generation finished", "finish_reason", reason)
	return err
}
