//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/54b3r/lawrag/internal/rag"
)

// TestOllamaEmbedder_Integration calls a locally running Ollama instance and
// checks that a legal query lands nearer its matching section than an
// unrelated one.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultOllamaModel
	}

	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	texts := []string{
		"Chapter 17, Section 303 - Theft: Whoever, intending to take dishonestly any movable property out of the possession of any person without that person's consent, moves that property, is said to commit theft.",
		"Chapter 1, Section 1 - Short title, commencement and application: This Act may be called the Bharatiya Nyaya Sanhita, 2023.",
		"What is the punishment for stealing someone's phone?",
	}

	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed() failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(vecs))
	}

	theft := rag.CosineSimilarity(vecs[2], vecs[0])
	title := rag.CosineSimilarity(vecs[2], vecs[1])
	t.Logf("model=%s dim=%d sim(theft)=%.3f sim(title)=%.3f", model, len(vecs[0]), theft, title)
	if theft <= title {
		t.Errorf("query should be closer to the theft section (%.3f) than the title section (%.3f)", theft, title)
	}
}
