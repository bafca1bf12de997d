package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/chenhunghan/oxpilot/internal/commitmsg"
	"github.com/chenhunghan/oxpilot/internal/git"
	"github.com/chenhunghan/oxpilot/internal/logger"
	"github.com/chenhunghan/oxpilot/internal/prompt"
)

type commitOptions struct {
	dryRun          bool
	functionContext bool
	yes             bool
	signoff         bool
	temperature     float64
}

func commitCmd(o *options) *cli.Command {
	var co commitOptions

	return &cli.Command{
		Name:  "commit",
		Usage: "Generate a Conventional Commits message for the staged changes and commit",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "print the message without committing",
				Destination: &co.dryRun,
			},
			&cli.BoolFlag{
				Name:        "function-context",
				Usage:       "include whole functions around changes in the diff",
				Destination: &co.functionContext,
			},
			&cli.BoolFlag{
				Name:        "yes",
				Aliases:     []string{"y"},
				Usage:       "commit without asking",
				Destination: &co.yes,
			},
			&cli.BoolFlag{
				Name:        "signoff",
				Aliases:     []string{"S"},
				Usage:       "add a Signed-off-by trailer",
				Destination: &co.signoff,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, _, err := o.prepare(ctx, cmd)
			if err != nil {
				return exitError(err)
			}
			co.temperature = o.temperature

			eng, err := o.newEngine(ctx)
			if err != nil {
				return exitError(err)
			}
			stop := eng.start(ctx)
			defer stop()

			maxSampled := commitmsg.DefaultMaxSampled
			if cmd.IsSet("max-sampled") {
				maxSampled = int(o.maxSampled)
			}
			err = runCommit(ctx, commitDeps{
				git:       git.New(git.Exec{}),
				generator: commitmsg.FromPrompter(eng, maxSampled, eng.config.TopP),
				ask:       func(p string) (string, error) { return readPlainLine(stdinReader, p, "") },
				edit:      readInteractiveLine,
				spinner:   NewSpinner(os.Stderr, co.yes || !stderrIsTTY(), "Reading staged changes"),
				stdout:    os.Stdout,
			}, co)
			return exitError(err)
		},
	}
}

type commitDeps struct {
	git       *git.Client
	generator commitmsg.Generator
	ask       func(prompt string) (string, error)
	edit      func(prompt, initial string) (string, error)
	spinner   *Spinner
	stdout    io.Writer
}

var errAborted = errors.New("commit aborted")

// runCommit confirms the message through d.ask unless co.yes is set. A closed
// or piped stdin that runs out of answers aborts.
func runCommit(ctx context.Context, d commitDeps, co commitOptions) error {
	log := logger.FromContext(ctx)

	diff, err := d.git.StagedDiff(ctx, co.functionContext)
	if err != nil {
		d.spinner.Fail("No staged changes")
		if errors.Is(err, git.ErrNoStagedChanges) {
			return cli.Exit("no staged changes", 1)
		}
		return err
	}

	d.spinner.Update("Generating commit message")
	w := &commitmsg.Workflow{
		Generator:   d.generator,
		Temperature: co.temperature,
		OnAttempt: func(n int, temp float64) {
			if n > 1 {
				d.spinner.Update(fmt.Sprintf("Message was not a Conventional Commit, retrying at temperature %.1f", temp))
			}
			log.Debug("generating commit message", "attempt", n, "temperature", temp)
		},
	}
	res, err := w.Run(ctx, prompt.CommitMessage(diff))
	if err != nil {
		d.spinner.Fail("Failed to generate a commit message")
		return err
	}
	if res.Message == "" {
		d.spinner.Fail("The model produced an empty message")
		return cli.Exit("empty commit message", 1)
	}
	if res.Valid {
		d.spinner.Success("Commit message generated")
	} else {
		d.spinner.Success("Commit message generated (not a Conventional Commit)")
		log.Warn("generated message does not follow Conventional Commits", "attempts", len(res.Attempts))
	}
	_, _ = fmt.Fprintln(d.stdout, res.Message)

	if co.dryRun {
		return nil
	}
	message := res.Message
	if !co.yes {
		message, err = confirmMessage(d, message)
		if errors.Is(err, errAborted) {
			_, _ = fmt.Fprintln(d.stdout, "Aborted.")
			return nil
		}
		if err != nil {
			return err
		}
	}

	out, err := d.git.Commit(ctx, message, co.signoff)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(d.stdout, out)
	return nil
}

// confirmMessage asks whether to commit, edit or abort. Editing changes the
// subject line and keeps any body.
func confirmMessage(d commitDeps, message string) (string, error) {
	for {
		answer, err := d.ask("Commit with this message? [y]es / [e]dit / [n]o: ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errAborted
			}
			return "", err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return message, nil
		case "n", "no":
			return "", errAborted
		case "e", "edit":
			subject, body, _ := strings.Cut(message, "\n")
			edited, err := d.edit("> ", subject)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return "", errAborted
				}
				return "", err
			}
			edited = strings.TrimSpace(edited)
			if edited == "" {
				return "", errAborted
			}
			if body = strings.TrimSpace(body); body != "" {
				return edited + "\n\n" + body, nil
			}
			return edited, nil
		}
	}
}
