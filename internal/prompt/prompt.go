// Package prompt builds the instruction prompts sent to the model.
package prompt

import (
	"fmt"
	"strings"
)

// MaxDiffBytes bounds how much of a diff is pasted into the commit prompt.
// Oversized diffs are cut from the back so the instruction header survives.
const MaxDiffBytes = 12000

// Instruct wraps an instruction in the Mistral/Llama instruct template.
func Instruct(instruction string) string {
	return fmt.Sprintf("<s>[INST] %s [/INST] ", strings.TrimSpace(instruction))
}

// CommitMessage builds the instruction asking for a Conventional Commits
// subject line describing diff.
func CommitMessage(diff string) string {
	diff = strings.TrimSpace(diff)
	if len(diff) > MaxDiffBytes {
		diff = strings.ToValidUTF8(diff[:MaxDiffBytes], "") + "\n[diff truncated]"
	}

	var b strings.Builder
	b.WriteString("Write a git commit message for the following staged changes.\n")
	b.WriteString("Follow the Conventional Commits format: <type>(<optional scope>): <description>.\n")
	b.WriteString("Allowed types: build, chore, ci, docs, feat, fix, perf, refactor, revert, style, test.\n")
	b.WriteString("Reply with the single subject line only, in the imperative mood, under 72 characters, ")
	b.WriteString("without quotes or explanations.\n\n")
	b.WriteString("```diff\n")
	b.WriteString(diff)
	b.WriteString("\n```")
	return Instruct(b.String())
}

// AdHoc wraps a free-form prompt given on the command line.
func AdHoc(args []string) string {
	return Instruct(strings.Join(args, " "))
}
