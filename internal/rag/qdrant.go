package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written on every Qdrant point.
const (
	payloadDocID   = "doc_id"
	payloadContent = "content"
	payloadChapter = "chapter"
	payloadSection = "section"
	payloadTitle   = "title"
)

// pointNamespace scopes the UUIDv5 point ids derived from document ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/54b3r/lawrag/points"))

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: bns_collection).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant collection using
// cosine distance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg QdrantConfig
}

// NewQdrantStore connects to Qdrant and ensures the target collection exists.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "bns_collection"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w: %w", ErrUnavailable, err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// Client returns the underlying gRPC client, used for health checks.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// Collection returns the collection name in use.
func (s *QdrantStore) Collection() string { return s.cfg.Collection }

// ensureCollection creates the collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %q: %w: %w", s.cfg.Collection, ErrUnavailable, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %q: %w: %w", s.cfg.Collection, ErrUnavailable, err)
	}
	return nil
}

// PointID maps a document id to its deterministic Qdrant point UUID, so
// re-adding a document overwrites the same point.
func PointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

// Add upserts docs with their embeddings and waits for the write to apply.
func (s *QdrantStore) Add(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings: %w", len(docs), len(embeddings), ErrInvalidInput)
	}
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(doc.ID)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocID:   doc.ID,
				payloadContent: doc.Text,
				payloadChapter: int64(doc.Metadata.Chapter),
				payloadSection: int64(doc.Metadata.Section),
				payloadTitle:   doc.Metadata.Title,
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w: %w", ErrUnavailable, err)
	}
	return int(n), nil //nolint:gosec // collection sizes fit in int
}

// Query returns the k nearest points, converting cosine scores into
// distances (1 − score).
func (s *QdrantStore) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w: %w", ErrUnavailable, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Document: documentFromPayload(r.GetPayload()),
			Distance: 1 - float64(r.GetScore()),
		})
	}
	return matches, nil
}

// documentFromPayload rebuilds a Document from a point payload.
func documentFromPayload(p map[string]*qdrant.Value) Document {
	var doc Document
	if v, ok := p[payloadDocID]; ok {
		doc.ID = v.GetStringValue()
	}
	if v, ok := p[payloadContent]; ok {
		doc.Text = v.GetStringValue()
	}
	if v, ok := p[payloadChapter]; ok {
		doc.Metadata.Chapter = int(v.GetIntegerValue())
	}
	if v, ok := p[payloadSection]; ok {
		doc.Metadata.Section = int(v.GetIntegerValue())
	}
	if v, ok := p[payloadTitle]; ok {
		doc.Metadata.Title = v.GetStringValue()
	}
	return doc
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
