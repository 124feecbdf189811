package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/retriever"

	"github.com/54b3r/lawrag/internal/corpus"
	"github.com/54b3r/lawrag/internal/embedder"
	"github.com/54b3r/lawrag/internal/ingestion"
	"github.com/54b3r/lawrag/internal/logging"
	"github.com/54b3r/lawrag/internal/rag"
	"github.com/54b3r/lawrag/internal/rag/ragtest"
)

var testSections = []corpus.Section{
	{Chapter: 5, Section: 63, Title: "Rape", Description: "A man is said to commit rape who ..."},
	{Chapter: 17, Section: 303, Title: "Theft", Description: "Whoever intending to take dishonestly any movable property commits theft"},
	{Chapter: 17, Section: 309, Title: "Robbery", Description: "In all robbery there is either theft or extortion"},
	{Chapter: 6, Section: 100, Title: "Culpable homicide", Description: "Whoever causes death by doing an act with the intention of causing death"},
}

// newIndexed builds an orchestrator over an indexed linear store.
func newIndexed(t *testing.T) (*Orchestrator, *ragtest.VocabEmbedder) {
	t.Helper()
	c := corpus.New(testSections)
	emb := ragtest.NewVocabEmbedder()
	store, err := rag.OpenLinearStore(t.TempDir(), logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ix, err := ingestion.NewIndexer(emb, store, nil, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Bootstrap(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return New(Config{Corpus: c, Store: store, Embedder: emb, Log: logging.Nop()}), emb
}

func TestRetrieve_DirectLookup(t *testing.T) {
	t.Parallel()
	o, emb := newIndexed(t)
	before := emb.Calls()

	res := o.Retrieve(context.Background(), "Explain chapter 5 section 63 please")
	if res.Kind != KindDirect {
		t.Fatalf("kind = %s, want direct", res.Kind)
	}
	if res.Section == nil || res.Section.Chapter != 5 || res.Section.Section != 63 {
		t.Fatalf("unexpected section: %+v", res.Section)
	}
	if !strings.Contains(res.Prompt, "Chapter 5, Section 63 - Rape:") {
		t.Errorf("prompt does not embed the section text:\n%s", res.Prompt)
	}
	if res.PromptOrQuery() != res.Prompt {
		t.Error("PromptOrQuery should return the prompt for a direct hit")
	}
	if emb.Calls() != before {
		t.Error("direct lookup must not embed")
	}
}

func TestRetrieve_SectionNotFound(t *testing.T) {
	t.Parallel()
	o, _ := newIndexed(t)

	// "theft" would match by vector search; the explicit reference wins.
	res := o.Retrieve(context.Background(), "chapter 17 section 999 theft")
	if res.Kind != KindSectionNotFound {
		t.Fatalf("kind = %s, want section_not_found", res.Kind)
	}
	if res.Chapter != 17 || res.SectionNumber != 999 {
		t.Errorf("reference not echoed: %d/%d", res.Chapter, res.SectionNumber)
	}
	if res.PromptOrQuery() != res.Query {
		t.Error("not found should fall back to the raw query")
	}
}

func TestRetrieve_VectorSearch(t *testing.T) {
	t.Parallel()
	o, _ := newIndexed(t)

	res := o.Retrieve(context.Background(), "dishonestly take movable property")
	if res.Kind != KindSearch {
		t.Fatalf("kind = %s, want search (err=%v)", res.Kind, res.Err)
	}
	if len(res.Matches) == 0 || len(res.Matches) > rag.DefaultTopK {
		t.Fatalf("want 1..%d matches, got %d", rag.DefaultTopK, len(res.Matches))
	}
	if res.Matches[0].Document.ID != "Chapter-17-Section-303" {
		t.Errorf("closest match = %s", res.Matches[0].Document.ID)
	}
	if !strings.Contains(res.Prompt, "Laws:\n"+res.Matches[0].Document.Text) {
		t.Errorf("prompt does not start its context with the closest match:\n%s", res.Prompt)
	}
	if !strings.HasSuffix(res.Prompt, "reference the correct sections.") {
		t.Errorf("unexpected prompt tail:\n%s", res.Prompt)
	}
}

func TestRetrieve_Degraded(t *testing.T) {
	t.Parallel()

	o := New(Config{Corpus: corpus.New(testSections), Log: logging.Nop()})
	if !o.Degraded() {
		t.Fatal("orchestrator without store should be degraded")
	}
	res := o.Retrieve(context.Background(), "what is theft")
	if res.Kind != KindEmpty || !errors.Is(res.Err, rag.ErrUnavailable) {
		t.Fatalf("want empty/unavailable, got %s/%v", res.Kind, res.Err)
	}
	if res.PromptOrQuery() != "what is theft" {
		t.Error("degraded result should return the raw query")
	}

	// Direct lookups still work without a store.
	if got := o.Retrieve(context.Background(), "chapter 17 section 303").Kind; got != KindDirect {
		t.Errorf("direct lookup in degraded mode: %s", got)
	}
}

func TestRetrieve_EmptyStore(t *testing.T) {
	t.Parallel()

	store, _ := rag.OpenLinearStore(t.TempDir(), logging.Nop())
	emb := ragtest.NewVocabEmbedder()
	o := New(Config{Store: store, Embedder: emb})

	res := o.Retrieve(context.Background(), "theft")
	if res.Kind != KindEmpty || !errors.Is(res.Err, rag.ErrEmptyIndex) {
		t.Fatalf("want empty/empty-index, got %s/%v", res.Kind, res.Err)
	}
	if emb.Calls() != 0 {
		t.Error("an empty index must not embed the query")
	}
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	t.Parallel()
	o, emb := newIndexed(t)
	emb.Fail = true

	res := o.Retrieve(context.Background(), "theft")
	if res.Kind != KindEmpty || !errors.Is(res.Err, rag.ErrEmbedding) {
		t.Fatalf("want empty/embedding, got %s/%v", res.Kind, res.Err)
	}
}

func TestParseReference(t *testing.T) {
	t.Parallel()

	cases := []struct {
		query   string
		ch, sec int
		ok      bool
	}{
		{"chapter 5 section 63", 5, 63, true},
		{"Explain CHAPTER 17, Section 303 to me", 17, 303, true},
		{"chapter5section63", 5, 63, true},
		{"section 63 of chapter 5", 0, 0, false},
		{"what is theft", 0, 0, false},
		{"chapter 99999999999999999999999 section 1", 0, 0, true},
	}
	for _, tc := range cases {
		ch, sec, ok := ParseReference(tc.query)
		if ch != tc.ch || sec != tc.sec || ok != tc.ok {
			t.Errorf("ParseReference(%q) = %d, %d, %v; want %d, %d, %v", tc.query, ch, sec, ok, tc.ch, tc.sec, tc.ok)
		}
	}
}

// newEinoRetriever builds an eino retriever over an indexed linear store.
func newEinoRetriever(t *testing.T) (*EinoRetriever, *ragtest.VocabEmbedder) {
	t.Helper()
	emb := ragtest.NewVocabEmbedder()
	store, err := rag.OpenLinearStore(t.TempDir(), logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ix, err := ingestion.NewIndexer(emb, store, nil, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Bootstrap(context.Background(), corpus.New(testSections)); err != nil {
		t.Fatal(err)
	}
	r, err := NewEinoRetriever(store, embedder.ToEino(emb), 0)
	if err != nil {
		t.Fatal(err)
	}
	return r, emb
}

func TestEinoRetriever(t *testing.T) {
	t.Parallel()
	r, _ := newEinoRetriever(t)

	docs, err := r.Retrieve(context.Background(), "robbery theft extortion", retriever.WithTopK(1))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("WithTopK(1): got %d docs", len(docs))
	}
	d := docs[0]
	if d.ID != "Chapter-17-Section-309" {
		t.Errorf("closest doc = %s", d.ID)
	}
	if d.Score() <= 0 || d.Score() > 1 {
		t.Errorf("score out of range: %v", d.Score())
	}
	if d.MetaData["section"] != 309 {
		t.Errorf("metadata: %+v", d.MetaData)
	}

	high, err := r.Retrieve(context.Background(), "robbery", retriever.WithScoreThreshold(1.1))
	if err != nil || len(high) != 0 {
		t.Errorf("threshold above every score should drop all docs: %v, %v", high, err)
	}
}

func TestEinoRetriever_WithEmbedding(t *testing.T) {
	t.Parallel()
	r, configured := newEinoRetriever(t)
	override := ragtest.NewVocabEmbedder()
	before := configured.Calls()

	docs, err := r.Retrieve(context.Background(), "theft", retriever.WithEmbedding(embedder.ToEino(override)))
	if err != nil || len(docs) == 0 {
		t.Fatalf("retrieve: %v, %d docs", err, len(docs))
	}
	if override.Calls() != 1 {
		t.Errorf("override embedder calls = %d, want 1", override.Calls())
	}
	if configured.Calls() != before {
		t.Error("configured embedder should not embed when an override is given")
	}
}

func TestEinoRetriever_Errors(t *testing.T) {
	t.Parallel()

	store, _ := rag.OpenLinearStore(t.TempDir(), logging.Nop())
	emb := ragtest.NewVocabEmbedder()
	r, err := NewEinoRetriever(store, embedder.ToEino(emb), 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Retrieve(context.Background(), "theft"); !errors.Is(err, rag.ErrEmptyIndex) {
		t.Errorf("empty index: want ErrEmptyIndex, got %v", err)
	}
	if emb.Calls() != 0 {
		t.Error("an empty index must not embed the query")
	}

	if _, err := NewEinoRetriever(nil, embedder.ToEino(emb), 0); !errors.Is(err, rag.ErrUnavailable) {
		t.Errorf("nil store: want ErrUnavailable, got %v", err)
	}
	if _, err := NewEinoRetriever(store, nil, 0); !errors.Is(err, rag.ErrUnavailable) {
		t.Errorf("nil embedder: want ErrUnavailable, got %v", err)
	}
}

func TestSearch_MatchesSurviveDocumentConversion(t *testing.T) {
	t.Parallel()
	o, _ := newIndexed(t)

	res := o.Search(context.Background(), "robbery theft extortion", 2)
	if res.Kind != KindSearch || len(res.Matches) != 2 {
		t.Fatalf("want 2 search matches, got %s/%d", res.Kind, len(res.Matches))
	}
	m := res.Matches[0]
	if m.Document.Metadata != (rag.Metadata{Chapter: 17, Section: 309, Title: "Robbery"}) {
		t.Errorf("metadata: %+v", m.Document.Metadata)
	}
	if m.Document.Text == "" || m.Distance < 0 || m.Distance > res.Matches[1].Distance {
		t.Errorf("unexpected match ordering or text: %+v", res.Matches)
	}
}

func TestSearch_ReportsRetrieverCallbacks(t *testing.T) {
	t.Parallel()
	o, _ := newIndexed(t)

	var docs int
	handler := callbacks.NewHandlerBuilder().
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, out callbacks.CallbackOutput) context.Context {
			if info.Component == components.ComponentOfRetriever {
				if got := retriever.ConvCallbackOutput(out); got != nil {
					docs += len(got.Docs)
				}
			}
			return ctx
		}).
		Build()
	// No RunInfo yet, so the retriever names its own run.
	ctx := callbacks.InitCallbacks(context.Background(), nil, handler)

	res := o.Search(ctx, "theft", 2)
	if res.Kind != KindSearch {
		t.Fatalf("kind = %s", res.Kind)
	}
	if docs != len(res.Matches) {
		t.Errorf("retriever callback saw %d docs, result has %d matches", docs, len(res.Matches))
	}
}
