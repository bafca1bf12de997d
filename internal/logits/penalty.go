package logits

// ApplyRepeatPenalty down-weights, in place, the logits of every token id that
// appears in the trailing lastN entries of history. Positive logits are
// divided by penalty and negative ones multiplied, so the adjustment always
// moves a seen token towards lower likelihood when penalty > 1. A penalty of
// 1 (or any non-positive value) is a no-op. Each distinct id is penalised
// once no matter how often it occurs in the window.
func ApplyRepeatPenalty(logits []float32, history []int, lastN int, penalty float32) {
	if penalty <= 0 || penalty == 1 || len(history) == 0 || lastN <= 0 {
		return
	}
	window := RecentWindow(history, lastN)
	seen := make(map[int]struct{}, len(window))
	for _, id := range window {
		if id < 0 || id >= len(logits) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if logits[id] >= 0 {
			logits[id] /= penalty
		} else {
			logits[id] *= penalty
		}
	}
}

// RecentWindow returns the trailing lastN ids of history. The returned slice
// aliases history.
func RecentWindow(history []int, lastN int) []int {
	if lastN <= 0 {
		return history[:0]
	}
	start := max(len(history)-lastN, 0)
	return history[start:]
}
