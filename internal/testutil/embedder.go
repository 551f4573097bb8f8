package testutil

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// KeywordEmbedder is a deterministic embedder for tests. Each vocabulary
// word is one dimension; a text's vector counts the occurrences of each
// word. Fixed overrides exact vectors per text.
type KeywordEmbedder struct {
	Vocabulary []string
	Fixed      map[string][]float32
	Err        error

	mu      sync.Mutex
	calls   int
	queries []string
}

// NewKeywordEmbedder creates an embedder over vocab.
func NewKeywordEmbedder(vocab ...string) *KeywordEmbedder {
	return &KeywordEmbedder{Vocabulary: vocab, Fixed: map[string][]float32{}}
}

// Embed implements index.Embedder.
func (e *KeywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.queries = append(e.queries, texts...)
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.Fixed[text]; ok {
			out[i] = v
			continue
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *KeywordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(e.Vocabulary))
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		for i, term := range e.Vocabulary {
			if w == term {
				v[i]++
			}
		}
	}
	return v
}

// Calls returns the number of Embed invocations.
func (e *KeywordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts returns every text passed to Embed, in call order.
func (e *KeywordEmbedder) Texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queries...)
}
