package onnx

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
)

// Special token IDs in the bert-base-uncased vocabulary used by MiniLM.
const (
	clsID = 101
	sepID = 102
	unkID = 100
)

// Tokenizer is a lowercase WordPiece tokenizer over a tokenizer.json vocab.
type Tokenizer struct {
	vocab map[string]int
}

// LoadTokenizer reads the WordPiece vocabulary from a HuggingFace tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocab", path)
	}
	return NewTokenizer(file.Model.Vocab), nil
}

// NewTokenizer creates a tokenizer from an in-memory vocab.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	return &Tokenizer{vocab: vocab}
}

// Tokenize returns the WordPiece IDs for text, without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		for _, piece := range t.pieces(word) {
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, int64(id))
			} else {
				ids = append(ids, unkID)
			}
		}
	}
	return ids
}

// Encode builds fixed-length model inputs: [CLS] tokens [SEP] padded with zeros.
func (t *Tokenizer) Encode(text string, seqLen int) (ids, mask []int64) {
	tokens := t.Tokenize(text)
	if len(tokens) > seqLen-2 {
		tokens = tokens[:seqLen-2]
	}

	ids = make([]int64, seqLen)
	mask = make([]int64, seqLen)

	ids[0], mask[0] = clsID, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = sepID, 1
	return ids, mask
}

// pieces greedily splits word into the longest vocab prefixes.
func (t *Tokenizer) pieces(word string) []string {
	var out []string
	for start := 0; start < len(word); {
		end := len(word)
		for ; end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				out = append(out, piece)
				break
			}
		}
		if end == start {
			out = append(out, "[UNK]")
			start++
			continue
		}
		start = end
	}
	return out
}

// meanPool averages hidden states over attended positions.
// hidden is laid out [seqLen][dims].
func meanPool(hidden []float32, mask []int64, dims int) []float32 {
	out := make([]float32, dims)
	var n float32
	for pos, m := range mask {
		if m == 0 {
			continue
		}
		n++
		row := hidden[pos*dims : (pos+1)*dims]
		for j, v := range row {
			out[j] += v
		}
	}
	if n == 0 {
		return out
	}
	for j := range out {
		out[j] /= n
	}
	return out
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
