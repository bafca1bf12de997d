package inference

import "fmt"

// ContextWindow returns the effective window: the model limit, narrowed by
// maxContext when that is positive.
func ContextWindow(modelMax, maxContext int) int {
	if maxContext > 0 && (modelMax <= 0 || maxContext < modelMax) {
		return maxContext
	}
	return modelMax
}

// FitPrompt drops the oldest prompt tokens so that len(prompt)+budget fits the
// window. When the window cannot hold even one prompt token plus the budget,
// the budget shrinks instead (never below one). It returns the kept suffix,
// the possibly clamped budget and the number of dropped tokens.
func FitPrompt(ids []int, budget, window int) ([]int, int, int, error) {
	if window < 1 {
		return nil, 0, 0, fmt.Errorf("%w: %d", ErrContextTooSmall, window)
	}
	budget = max(budget, 1)
	if len(ids) == 0 {
		return ids, min(budget, window), 0, nil
	}
	if window-budget < 1 {
		budget = max(window-1, 1)
	}
	keep := max(window-budget, 1)
	if len(ids) <= keep {
		return ids, budget, 0, nil
	}
	dropped := len(ids) - keep
	return ids[dropped:], budget, dropped, nil
}
