package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Tokenizer handles BERT-style WordPiece tokenization. It is shared by the
// sentence embedder and the emotion classifier, which both take BERT inputs.
type Tokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
	padToken int
}

// Encoding is a fixed-length model input.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Attended returns the number of non-padding positions.
func (e Encoding) Attended() int {
	n := 0
	for _, m := range e.AttentionMask {
		if m == 1 {
			n++
		}
	}
	return n
}

// LoadTokenizer loads the vocabulary from a HuggingFace tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var tokenizerData struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(tokenizerData.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}

	return NewTokenizer(tokenizerData.Model.Vocab), nil
}

// NewTokenizer builds a tokenizer over vocab. Special tokens missing from
// vocab fall back to the bert-base-uncased ids.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	lookup := func(token string, fallback int) int {
		if id, ok := vocab[token]; ok {
			return id
		}
		return fallback
	}
	return &Tokenizer{
		vocab:    vocab,
		clsToken: lookup("[CLS]", 101),
		sepToken: lookup("[SEP]", 102),
		unkToken: lookup("[UNK]", 100),
		padToken: lookup("[PAD]", 0),
	}
}

// Tokenize converts text to token IDs using WordPiece, without special
// tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, subword := range t.wordPieceTokenize(word) {
			if id, ok := t.vocab[subword]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

// Encode produces a [CLS] tokens [SEP] sequence padded to maxLen.
func (t *Tokenizer) Encode(text string, maxLen int) Encoding {
	if maxLen < 2 {
		maxLen = 2
	}
	enc := Encoding{
		InputIDs:      make([]int64, maxLen),
		AttentionMask: make([]int64, maxLen),
		TokenTypeIDs:  make([]int64, maxLen),
	}
	for i := range enc.InputIDs {
		enc.InputIDs[i] = int64(t.padToken)
	}

	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 { // Reserve space for [CLS] and [SEP]
		tokens = tokens[:maxLen-2]
	}

	enc.InputIDs[0] = int64(t.clsToken)
	enc.AttentionMask[0] = 1
	for i, tok := range tokens {
		enc.InputIDs[i+1] = tok
		enc.AttentionMask[i+1] = 1
	}
	end := len(tokens) + 1
	enc.InputIDs[end] = int64(t.sepToken)
	enc.AttentionMask[end] = 1

	return enc
}

// splitWords splits on whitespace and isolates punctuation, as BERT's basic
// tokenizer does.
func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// wordPieceTokenize splits word into the longest matching vocabulary pieces.
func (t *Tokenizer) wordPieceTokenize(word string) []string {
	if len(word) == 0 {
		return nil
	}

	var subwords []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := false

		for end > start {
			substr := word[start:end]
			if start > 0 {
				substr = "##" + substr // WordPiece continuation prefix
			}
			if _, ok := t.vocab[substr]; ok {
				subwords = append(subwords, substr)
				start = end
				found = true
				break
			}
			end--
		}

		if !found {
			// A word with any unknown piece is a single [UNK].
			return []string{"[UNK]"}
		}
	}

	return subwords
}
