// Package ragtest provides deterministic embedders for tests.
package ragtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"
)

// Dimensions is the vector length produced by VocabEmbedder.
const Dimensions = 64

// ErrEmbed is returned by a VocabEmbedder configured to fail.
var ErrEmbed = errors.New("ragtest: embed failed")

// VocabEmbedder is a bag-of-words embedder: every distinct lower-cased token
// gets its own dimension on first sight, so texts sharing no tokens are
// orthogonal. It is safe for concurrent use.
type VocabEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	calls int
	texts int
	// Fail makes every Embed call return ErrEmbed.
	Fail bool
}

// NewVocabEmbedder returns an empty VocabEmbedder.
func NewVocabEmbedder() *VocabEmbedder {
	return &VocabEmbedder{vocab: make(map[string]int)}
}

// Embed returns one vector per text.
func (e *VocabEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.Fail {
		return nil, ErrEmbed
	}
	e.texts += len(texts)

	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, Dimensions)
		for _, tok := range Tokens(t) {
			idx, ok := e.vocab[tok]
			if !ok {
				idx = len(e.vocab) % Dimensions
				e.vocab[tok] = idx
			}
			vec[idx]++
		}
		out[i] = vec
	}
	return out, nil
}

// Calls returns the number of Embed invocations.
func (e *VocabEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts returns the total number of texts embedded successfully.
func (e *VocabEmbedder) Texts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

// Tokens splits s into lower-cased alphanumeric tokens.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Unit returns a one-hot vector of length dim with a 1 at i.
func Unit(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}
