package inference

import "slices"

// BuildStopTokens returns the ids that end generation: the hard-stop id when
// non-negative and the id of eosText when the tokenizer knows it. The second
// return value reports whether eosText resolved.
func BuildStopTokens(tok Tokenizer, eosText string, hardStopID int) ([]int, bool) {
	var stop []int
	if hardStopID >= 0 {
		stop = append(stop, hardStopID)
	}
	if eosText == "" {
		return stop, false
	}
	id, ok := safeTokenID(tok, eosText)
	if !ok {
		return stop, false
	}
	if !slices.Contains(stop, id) {
		stop = append(stop, id)
	}
	return stop, true
}
