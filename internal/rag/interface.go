// Package rag holds the retrieval primitives shared by lawrag: the document
// and match types, the VectorStore and Embedder contracts, the two store
// variants (managed Qdrant and the persistent linear index) and the
// error kinds callers branch on.
package rag

import (
	"context"
	"errors"
)

// Metadata is the structured payload stored next to every document.
type Metadata struct {
	// Chapter is the chapter number of the section.
	Chapter int `json:"chapter"`
	// Section is the section number.
	Section int `json:"section"`
	// Title is the section heading.
	Title string `json:"title"`
}

// Document is a unit of stored knowledge: one rendered legal section.
type Document struct {
	// ID is the unique key of the document within a store.
	ID string `json:"id"`
	// Text is the rendered text that was embedded.
	Text string `json:"document"`
	// Metadata carries the chapter/section/title of the document.
	Metadata Metadata `json:"metadata"`
}

// Match is a document returned by a similarity query.
type Match struct {
	// Document is the stored document.
	Document Document
	// Distance is 1 − cosine similarity; lower is more similar.
	Distance float64
}

// VectorStore persists document embeddings and answers nearest-neighbour
// queries. Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Add stores docs with their embeddings; embeddings[i] belongs to docs[i].
	Add(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Query returns at most k matches ordered by ascending distance.
	Query(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into embeddings, parallel to texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Error kinds. Concrete errors wrap one of these so callers can use
// errors.Is to decide whether to retry, degrade or abort.
var (
	// ErrUnavailable means no vector store could be reached or opened.
	ErrUnavailable = errors.New("rag: vector store unavailable")

	// ErrEmbedding means the embedding provider failed.
	ErrEmbedding = errors.New("rag: embedding failed")

	// ErrPersistence means the linear index could not be written to disk.
	ErrPersistence = errors.New("rag: persistence failed")

	// ErrDuplicateID means a document id is already stored or repeated in a batch.
	ErrDuplicateID = errors.New("rag: duplicate document id")

	// ErrDimensionMismatch means an embedding length differs from the store's.
	ErrDimensionMismatch = errors.New("rag: embedding dimension mismatch")

	// ErrInvalidInput means docs and embeddings are not parallel.
	ErrInvalidInput = errors.New("rag: invalid input")

	// ErrEmptyIndex means the store holds no documents.
	ErrEmptyIndex = errors.New("rag: index is empty")
)
