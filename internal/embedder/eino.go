package embedder

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/54b3r/lawrag/internal/rag"
)

// EinoEmbedder adapts an eino embedding component to rag.Embedder. The
// retrieval vector path searches through it, so an embedder passed with
// retriever.WithEmbedding embeds the query.
type EinoEmbedder struct {
	// inner is the wrapped eino embedder.
	inner embedding.Embedder
}

// FromEino wraps an eino embedder.
func FromEino(e embedding.Embedder) *EinoEmbedder {
	return &EinoEmbedder{inner: e}
}

// Embed calls EmbedStrings and narrows the vectors to float32.
func (e *EinoEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.inner.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("eino embedder: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("eino embedder: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		row := make([]float32, len(v))
		for j, x := range v {
			row[j] = float32(x)
		}
		out[i] = row
	}
	return out, nil
}

// einoAdapter exposes a rag.Embedder as an eino embedding component.
type einoAdapter struct {
	inner rag.Embedder
}

// ToEino exposes e as an eino embedding.Embedder. The retrieval vector path
// embeds queries through it, and it reports each call to eino callback
// handlers.
func ToEino(e rag.Embedder) embedding.Embedder {
	return &einoAdapter{inner: e}
}

// GetType names the component in eino callbacks.
func (a *einoAdapter) GetType() string { return "LawRAG" }

// IsCallbacksEnabled reports that EmbedStrings emits its own callbacks.
func (a *einoAdapter) IsCallbacksEnabled() bool { return true }

// EmbedStrings widens rag.Embedder output to float64. Options are ignored.
func (a *einoAdapter) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	// Queries are embedded inside a retriever run; report under our own RunInfo.
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{Type: a.GetType(), Component: components.ComponentOfEmbedding})
	ctx = callbacks.OnStart(ctx, &embedding.CallbackInput{Texts: texts})
	vecs, err := a.inner.Embed(ctx, texts)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}
	out := make([][]float64, len(vecs))
	for i, v := range vecs {
		row := make([]float64, len(v))
		for j, x := range v {
			row[j] = float64(x)
		}
		out[i] = row
	}
	callbacks.OnEnd(ctx, &embedding.CallbackOutput{Embeddings: out})
	return out, nil
}
