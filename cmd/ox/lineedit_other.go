//go:build !linux

package main

func readInteractiveLine(prompt, initial string) (string, error) {
	if initial != "" && stdinIsTTY() {
		prompt = prompt + "[" + initial + "] "
	}
	return readPlainLine(stdinReader, prompt, initial)
}
