package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	o := &options{}
	return &cli.Command{
		Name:      "ox",
		Usage:     "Pragmatic AI pipeline backed by a local model",
		ArgsUsage: "[prompt...]",
		Flags:     o.flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return cli.ShowAppHelp(cmd)
			}
			return exitError(runPrompt(ctx, cmd, o))
		},
		Commands: []*cli.Command{
			serveCmd(o),
			commitCmd(o),
			versionCmd(),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
