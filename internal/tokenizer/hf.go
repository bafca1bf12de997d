package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

type mode int

const (
	modeByteLevel mode = iota
	modeMetaspace
)

// metaspace replaces spaces in sentencepiece-style vocabularies.
const metaspace = "▁"

var metaspaceWordRe = regexp.MustCompile(`▁*[^▁]+|▁+`)

// HFTokenizer is a BPE codec loaded from a Hugging Face tokenizer.json.
// Both byte-level (GPT-2 style) and metaspace with byte fallback (Llama
// style) vocabularies are supported.
type HFTokenizer struct {
	encoder      map[string]int
	decoder      []string
	bpeRanks     map[Pair]int
	byteEncoder  map[byte]string
	byteDecoder  map[string]byte
	pattern      *regexp.Regexp
	mode         mode
	prependSpace bool
	byteFallback bool
	addBOS       bool
	addEOS       bool
	bosID        int
	eosID        int
	unkID        int
	ignoreMerges bool
	special      []string

	mu    sync.Mutex
	cache map[string][]string
}

type hfNormalizer struct {
	Type        string         `json:"type"`
	Prepend     string         `json:"prepend"`
	Content     string         `json:"content"`
	Normalizers []hfNormalizer `json:"normalizers"`
}

type hfPreTokenizer struct {
	Type           string `json:"type"`
	Replacement    string `json:"replacement"`
	AddPrefixSpace *bool  `json:"add_prefix_space"`
	PrependScheme  string `json:"prepend_scheme"`
	Pattern        struct {
		Regex string `json:"Regex"`
	} `json:"pattern"`
	Pretokenizers []hfPreTokenizer `json:"pretokenizers"`
}

type hfTemplatePiece struct {
	SpecialToken *struct {
		ID string `json:"id"`
	} `json:"SpecialToken"`
	Sequence *struct {
		ID string `json:"id"`
	} `json:"Sequence"`
}

type hfPostProcessor struct {
	Type          string            `json:"type"`
	Single        []hfTemplatePiece `json:"single"`
	SpecialTokens map[string]struct {
		IDs []int `json:"ids"`
	} `json:"special_tokens"`
	Processors []hfPostProcessor `json:"processors"`
}

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
		ByteFallback bool           `json:"byte_fallback"`
	} `json:"model"`
	Normalizer    *hfNormalizer    `json:"normalizer"`
	PreTokenizer  *hfPreTokenizer  `json:"pre_tokenizer"`
	PostProcessor *hfPostProcessor `json:"post_processor"`
	AddedTokens   []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// tokenText accepts both "<s>" and {"content":"<s>",...} forms.
type tokenText string

func (t *tokenText) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*t = tokenText(obj.Content)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = tokenText(s)
	return nil
}

type hfTokenizerConfig struct {
	AddBOS *bool     `json:"add_bos_token"`
	AddEOS *bool     `json:"add_eos_token"`
	BOS    tokenText `json:"bos_token"`
	EOS    tokenText `json:"eos_token"`
}

// LoadHFTokenizer reads tokenizer.json and, when tokConfig is non-empty and
// present, tokenizer_config.json.
func LoadHFTokenizer(tokJSON, tokConfig string) (*HFTokenizer, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if tokConfig != "" {
		if raw, err := os.ReadFile(tokConfig); err == nil {
			cfg = raw
		}
	}
	return LoadHFTokenizerBytes(data, cfg)
}

func LoadHFTokenizerBytes(tokJSON []byte, tokConfig []byte) (*HFTokenizer, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %q", tj.Model.Type)
	}

	encoder := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative id %d for token %q", id, tok)
		}
		encoder[tok] = id
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		if at.ID < 0 {
			return nil, fmt.Errorf("negative id %d for added token %q", at.ID, at.Content)
		}
		encoder[at.Content] = at.ID
		maxID = max(maxID, at.ID)
	}
	if maxID < 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	decoder := make([]string, maxID+1)
	for tok, id := range tj.Model.Vocab {
		decoder[id] = tok
	}
	added := make([]string, 0, len(tj.AddedTokens))
	for _, at := range tj.AddedTokens {
		decoder[at.ID] = at.Content
		added = append(added, at.Content)
	}

	byteEncoder, byteDecoder := bytesToUnicode()
	tok := &HFTokenizer{
		encoder:      encoder,
		decoder:      decoder,
		bpeRanks:     parseMerges(tj.Model.Merges),
		cache:        make(map[string][]string),
		byteEncoder:  byteEncoder,
		byteDecoder:  byteDecoder,
		byteFallback: tj.Model.ByteFallback,
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
		ignoreMerges: tj.Model.IgnoreMerges,
		special:      collectSpecials(decoder, added),
	}
	tok.mode, tok.prependSpace = detectMode(tj.Normalizer, tj.PreTokenizer, tj.Model.ByteFallback)
	if tok.mode == modeByteLevel {
		tok.pattern = buildHFPattern(tj.PreTokenizer)
	}
	if tj.Model.UnkToken != "" {
		if id, ok := encoder[tj.Model.UnkToken]; ok {
			tok.unkID = id
		}
	}

	var cfg hfTokenizerConfig
	if len(tokConfig) > 0 {
		if err := json.Unmarshal(tokConfig, &cfg); err != nil {
			return nil, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
	}
	if id, ok := encoder[string(cfg.BOS)]; ok && cfg.BOS != "" {
		tok.bosID = id
	}
	if id, ok := encoder[string(cfg.EOS)]; ok && cfg.EOS != "" {
		tok.eosID = id
	}
	if cfg.AddBOS != nil {
		tok.addBOS = *cfg.AddBOS
	}
	if cfg.AddEOS != nil {
		tok.addEOS = *cfg.AddEOS
	}
	if tj.PostProcessor != nil {
		tok.applyTemplate(*tj.PostProcessor)
	}
	return tok, nil
}

func parseMerges(merges []any) map[Pair]int {
	ranks := make(map[Pair]int, len(merges))
	rank := 0
	for _, raw := range merges {
		line := ""
		switch v := raw.(type) {
		case string:
			line = v
		case []any:
			if len(v) == 2 {
				a, aok := v[0].(string)
				b, bok := v[1].(string)
				if aok && bok {
					line = a + " " + b
				}
			}
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			continue
		}
		p := Pair{A: parts[0], B: parts[1]}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}

func detectMode(norm *hfNormalizer, pre *hfPreTokenizer, byteFallback bool) (mode, bool) {
	if pre != nil {
		for _, p := range flattenPre(*pre) {
			if p.Type != "Metaspace" {
				continue
			}
			prepend := p.PrependScheme != "never"
			if p.AddPrefixSpace != nil {
				prepend = *p.AddPrefixSpace
			}
			return modeMetaspace, prepend
		}
	}
	if norm != nil {
		metaspaceNorm, prepend := false, false
		for _, n := range flattenNorm(*norm) {
			switch n.Type {
			case "Replace":
				if n.Content == metaspace {
					metaspaceNorm = true
				}
			case "Prepend":
				if n.Prepend == metaspace {
					prepend = true
				}
			}
		}
		if metaspaceNorm || prepend {
			return modeMetaspace, prepend
		}
	}
	if byteFallback {
		return modeMetaspace, true
	}
	return modeByteLevel, false
}

func flattenPre(p hfPreTokenizer) []hfPreTokenizer {
	out := []hfPreTokenizer{p}
	for _, child := range p.Pretokenizers {
		out = append(out, flattenPre(child)...)
	}
	return out
}

func flattenNorm(n hfNormalizer) []hfNormalizer {
	out := []hfNormalizer{n}
	for _, child := range n.Normalizers {
		out = append(out, flattenNorm(child)...)
	}
	return out
}

// applyTemplate reads BOS/EOS placement from a TemplateProcessing
// post-processor: special tokens before the sequence are prepended, those
// after it are appended.
func (t *HFTokenizer) applyTemplate(pp hfPostProcessor) {
	if pp.Type == "Sequence" {
		for _, proc := range pp.Processors {
			t.applyTemplate(proc)
		}
		return
	}
	if pp.Type != "TemplateProcessing" {
		return
	}
	lookup := func(name string) (int, bool) {
		entry, ok := pp.SpecialTokens[name]
		if !ok || len(entry.IDs) == 0 {
			return 0, false
		}
		return entry.IDs[0], true
	}
	if len(pp.Single) == 0 {
		for name := range pp.SpecialTokens {
			if id, ok := lookup(name); ok {
				t.bosID, t.addBOS = id, true
				return
			}
		}
		return
	}
	seenSequence := false
	for _, piece := range pp.Single {
		switch {
		case piece.Sequence != nil:
			seenSequence = true
		case piece.SpecialToken != nil:
			id, ok := lookup(piece.SpecialToken.ID)
			if !ok {
				continue
			}
			if seenSequence {
				t.eosID, t.addEOS = id, true
			} else {
				t.bosID, t.addBOS = id, true
			}
		}
	}
}

// Encode converts text into token ids. A leading BOS token is added when the
// vocabulary asks for it, unless text already starts with the BOS text.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS && t.bosID >= 0 && !strings.HasPrefix(text, t.decoder[t.bosID]) {
		ids = append(ids, t.bosID)
	}
	for _, part := range splitSpecials(text, t.special) {
		if part.isSpecial {
			id, ok := t.encoder[part.text]
			if !ok {
				return nil, fmt.Errorf("unknown special token: %q", part.text)
			}
			ids = append(ids, id)
			continue
		}
		if part.text == "" {
			continue
		}
		var err error
		if t.mode == modeMetaspace {
			ids, err = t.encodeMetaspace(ids, part.text)
		} else {
			ids, err = t.encodeByteLevel(ids, part.text)
		}
		if err != nil {
			return nil, err
		}
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

func (t *HFTokenizer) encodeByteLevel(ids []int, text string) ([]int, error) {
	for _, token := range t.pattern.FindAllString(text, -1) {
		for _, bpeTok := range t.bpe(t.byteEncode(token)) {
			id, ok := t.encoder[bpeTok]
			if !ok {
				if t.unkID >= 0 {
					ids = append(ids, t.unkID)
					continue
				}
				return nil, fmt.Errorf("unknown token: %q", bpeTok)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *HFTokenizer) encodeMetaspace(ids []int, text string) ([]int, error) {
	s := strings.ReplaceAll(text, " ", metaspace)
	if t.prependSpace {
		s = metaspace + s
	}
	for _, word := range metaspaceWordRe.FindAllString(s, -1) {
		for _, piece := range t.bpe(word) {
			if id, ok := t.encoder[piece]; ok {
				ids = append(ids, id)
				continue
			}
			var err error
			if ids, err = t.fallback(ids, piece); err != nil {
				return nil, err
			}
		}
	}
	return ids, nil
}

// fallback encodes an out-of-vocabulary piece as <0xNN> byte tokens.
func (t *HFTokenizer) fallback(ids []int, piece string) ([]int, error) {
	if t.byteFallback {
		start := len(ids)
		complete := true
		for i := 0; i < len(piece); i++ {
			id, ok := t.encoder[fmt.Sprintf("<0x%02X>", piece[i])]
			if !ok {
				complete = false
				break
			}
			ids = append(ids, id)
		}
		if complete {
			return ids, nil
		}
		ids = ids[:start]
	}
	if t.unkID >= 0 {
		return append(ids, t.unkID), nil
	}
	return nil, fmt.Errorf("unknown token: %q", piece)
}

// Decode joins the text of ids.
func (t *HFTokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		s, err := t.DecodeOne(id)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// DecodeOne returns the text of a single token. Metaspace markers become
// spaces and <0xNN> byte tokens become the raw byte; ids outside the
// vocabulary decode to the empty string.
func (t *HFTokenizer) DecodeOne(id int) (string, error) {
	if id < 0 || id >= len(t.decoder) {
		return "", nil
	}
	token := t.decoder[id]
	if t.isSpecial(token) {
		return token, nil
	}
	if t.mode == modeMetaspace {
		if b, ok := parseByteToken(token); ok {
			return string([]byte{b}), nil
		}
		return strings.ReplaceAll(token, metaspace, " "), nil
	}
	var b []byte
	for _, r := range token {
		if by, ok := t.byteDecoder[string(r)]; ok {
			b = append(b, by)
		} else {
			b = append(b, string(r)...)
		}
	}
	return string(b), nil
}

// TokenID looks up the id of an exact vocabulary entry.
func (t *HFTokenizer) TokenID(text string) (int, bool) {
	id, ok := t.encoder[text]
	return id, ok
}

func (t *HFTokenizer) VocabSize() int { return len(t.decoder) }
func (t *HFTokenizer) BOSID() int     { return t.bosID }
func (t *HFTokenizer) EOSID() int     { return t.eosID }
func (t *HFTokenizer) AddBOS() bool   { return t.addBOS }
func (t *HFTokenizer) AddEOS() bool   { return t.addEOS }
func (t *HFTokenizer) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

func (t *HFTokenizer) isSpecial(token string) bool {
	for _, sp := range t.special {
		if sp == token {
			return true
		}
	}
	return false
}

func parseByteToken(token string) (byte, bool) {
	if len(token) != 6 || !strings.HasPrefix(token, "<0x") || token[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(token[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

func (t *HFTokenizer) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *HFTokenizer) bpe(token string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache[token]; ok {
		return v
	}
	if t.ignoreMerges {
		if _, ok := t.encoder[token]; ok {
			out := []string{token}
			t.cache[token] = out
			return out
		}
	}
	word := splitRunes(token)
	pairs := getPairs(word)
	for len(pairs) > 0 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range pairs {
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
		if len(word) == 1 {
			break
		}
		pairs = getPairs(word)
	}
	t.cache[token] = word
	return word
}

func buildHFPattern(pre *hfPreTokenizer) *regexp.Regexp {
	// Default to GPT2-ish regex.
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	if pre != nil {
		for _, p := range flattenPre(*pre) {
			if p.Type == "Split" && p.Pattern.Regex != "" {
				pat = p.Pattern.Regex
				break
			}
		}
	}
	// Llama3-style patterns use lookahead, which Go's regexp lacks.
	if strings.Contains(pat, "(?!\\S)") || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)
	}
	return re
}
