package rag

import (
	"context"
	"fmt"
)

// DefaultTopK is the number of matches returned when a caller passes k <= 0.
const DefaultTopK = 3

// Searcher combines an Embedder and a VectorStore: it embeds the query text
// and delegates the similarity search to the store.
type Searcher struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// defaultTopK is used when Search is called with k <= 0.
	defaultTopK int
}

// NewSearcher constructs a Searcher. defaultTopK <= 0 selects DefaultTopK.
func NewSearcher(embedder Embedder, store VectorStore, defaultTopK int) (*Searcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil: %w", ErrUnavailable)
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Searcher{embedder: embedder, store: store, defaultTopK: defaultTopK}, nil
}

// Search returns up to k matches for query. An empty store yields
// ErrEmptyIndex before the embedder is called. Embedding failures wrap
// ErrEmbedding.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if k <= 0 {
		k = s.defaultTopK
	}

	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("rag: count: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyIndex
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query: %w: %w", ErrEmbedding, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for 1 query: %w", len(vecs), ErrEmbedding)
	}

	matches, err := s.store.Query(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search: %w", err)
	}
	return matches, nil
}
