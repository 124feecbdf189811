package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/lawrag/internal/embedder"
	"github.com/54b3r/lawrag/internal/rag"
)

// componentType names lawrag retrieval in eino callbacks and traces.
const componentType = "LawRAG"

// metaDistance carries the exact store distance through a document so the
// orchestrator can rebuild a rag.Match without float round-off.
const metaDistance = "distance"

// EinoRetriever is the vector path as an eino retriever.Retriever: it embeds
// the query with an eino embedding component and searches a rag.VectorStore.
// The orchestrator runs every search through it, and it can be dropped into
// eino chains and graphs as is.
type EinoRetriever struct {
	store     rag.VectorStore
	embedding embedding.Embedder
	topK      int
}

var _ retriever.Retriever = (*EinoRetriever)(nil)

// NewEinoRetriever builds a retriever over store. topK <= 0 selects
// rag.DefaultTopK.
func NewEinoRetriever(store rag.VectorStore, emb embedding.Embedder, topK int) (*EinoRetriever, error) {
	if store == nil {
		return nil, fmt.Errorf("retrieval: no vector store: %w", rag.ErrUnavailable)
	}
	if emb == nil {
		return nil, fmt.Errorf("retrieval: no embedder: %w", rag.ErrUnavailable)
	}
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	return &EinoRetriever{store: store, embedding: emb, topK: topK}, nil
}

// GetType names the component in eino callbacks.
func (r *EinoRetriever) GetType() string { return componentType }

// IsCallbacksEnabled reports that Retrieve emits its own callbacks, so eino
// must not wrap it a second time.
func (r *EinoRetriever) IsCallbacksEnabled() bool { return true }

// Retrieve runs vector search. It honours retriever.WithTopK,
// retriever.WithScoreThreshold and retriever.WithEmbedding. An empty store
// fails with rag.ErrEmptyIndex before the query is embedded.
func (r *EinoRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, Embedding: r.embedding}, opts...)
	k := r.topK
	if options.TopK != nil && *options.TopK > 0 {
		k = *options.TopK
	}

	ctx = callbacks.EnsureRunInfo(ctx, r.GetType(), components.ComponentOfRetriever)
	ctx = callbacks.OnStart(ctx, &retriever.CallbackInput{
		Query:          query,
		TopK:           k,
		ScoreThreshold: options.ScoreThreshold,
	})

	docs, err := r.retrieve(ctx, query, k, options)
	if err != nil {
		// An empty store is an expected state, not a component failure.
		if errors.Is(err, rag.ErrEmptyIndex) {
			callbacks.OnEnd(ctx, &retriever.CallbackOutput{Docs: []*schema.Document{}})
		} else {
			callbacks.OnError(ctx, err)
		}
		return nil, err
	}
	callbacks.OnEnd(ctx, &retriever.CallbackOutput{Docs: docs})
	return docs, nil
}

func (r *EinoRetriever) retrieve(ctx context.Context, query string, k int, options *retriever.Options) ([]*schema.Document, error) {
	emb := options.Embedding
	if emb == nil {
		emb = r.embedding
	}
	s, err := rag.NewSearcher(embedder.FromEino(emb), r.store, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	matches, err := s.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return schemaDocs(matches, options.ScoreThreshold), nil
}

// schemaDocs converts matches to eino documents scored by cosine similarity,
// dropping those below threshold when it is set.
func schemaDocs(matches []rag.Match, threshold *float64) []*schema.Document {
	docs := make([]*schema.Document, 0, len(matches))
	for _, m := range matches {
		score := 1 - m.Distance
		if threshold != nil && score < *threshold {
			continue
		}
		d := &schema.Document{
			ID:      m.Document.ID,
			Content: m.Document.Text,
			MetaData: map[string]any{
				"chapter":    m.Document.Metadata.Chapter,
				"section":    m.Document.Metadata.Section,
				"title":      m.Document.Metadata.Title,
				metaDistance: m.Distance,
			},
		}
		docs = append(docs, d.WithScore(score))
	}
	return docs
}

// ragMatches is the inverse of schemaDocs.
func ragMatches(docs []*schema.Document) []rag.Match {
	matches := make([]rag.Match, 0, len(docs))
	for _, d := range docs {
		m := rag.Match{
			Document: rag.Document{ID: d.ID, Text: d.Content},
			Distance: 1 - d.Score(),
		}
		if v, ok := d.MetaData[metaDistance].(float64); ok {
			m.Distance = v
		}
		m.Document.Metadata.Chapter, _ = d.MetaData["chapter"].(int)
		m.Document.Metadata.Section, _ = d.MetaData["section"].(int)
		m.Document.Metadata.Title, _ = d.MetaData["title"].(string)
		matches = append(matches, m)
	}
	return matches
}
