package inference

import "fmt"

func safeEncode(tok Tokenizer, prompt string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(prompt)
}

func safeDecodeOne(tok Tokenizer, id int) (s string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in DecodeOne: %v", rec)
		}
	}()
	return tok.DecodeOne(id)
}

func safeTokenID(tok Tokenizer, text string) (id int, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			id, ok = -1, false
		}
	}()
	return tok.TokenID(text)
}

func safeForward(m Model, tokens []int, pos int) (out []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	out, err = m.Forward(tokens, pos)
	if err == nil && len(out) == 0 {
		err = fmt.Errorf("forward returned empty logits at position %d", pos)
	}
	return out, err
}

func safeMaxSeqLen(m Model) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in MaxSeqLen: %v", rec)
		}
	}()
	return m.MaxSeqLen(), nil
}
