package commitmsg

import "strings"

var sentinelTokens = []string{
	"<s>",
	"</s>",
	"[INST]",
	"[/INST]",
	"<|im_end|>",
	"<|endoftext|>",
	"<|eot_id|>",
}

// Clean turns raw model output into a commit message candidate: sentinel
// tokens, reasoning blocks and markdown fences are removed, a leading label
// such as "Commit message:" is dropped and wrapping quotes are stripped.
// Lines after the subject are kept as the message body.
func Clean(raw string) string {
	s := stripThinkBlocks(raw)
	for _, token := range sentinelTokens {
		s = strings.ReplaceAll(s, token, "")
	}

	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}
	s = strings.TrimSpace(strings.Join(kept, "\n"))

	subject, body, hasBody := strings.Cut(s, "\n")
	subject = strings.TrimSpace(subject)
	for _, label := range []string{"commit message:", "commit:", "subject:"} {
		if len(subject) >= len(label) && strings.EqualFold(subject[:len(label)], label) {
			subject = strings.TrimSpace(subject[len(label):])
			break
		}
	}
	subject = strings.Trim(subject, "`\"'")
	if !hasBody {
		return subject
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return subject
	}
	return subject + "\n\n" + body
}

func stripThinkBlocks(text string) string {
	lower := strings.ToLower(text)
	const (
		openTag  = "<think>"
		closeTag = "</think>"
	)

	var b strings.Builder
	cursor := 0
	for cursor < len(text) {
		start := strings.Index(lower[cursor:], openTag)
		if start < 0 {
			b.WriteString(text[cursor:])
			break
		}
		start += cursor
		b.WriteString(text[cursor:start])

		inner := start + len(openTag)
		end := strings.Index(lower[inner:], closeTag)
		if end < 0 {
			break
		}
		cursor = inner + end + len(closeTag)
	}
	return b.String()
}
