// Package retrieval answers a free-text legal query. A query naming an
// explicit "chapter N ... section M" is resolved by direct corpus lookup;
// anything else goes through vector search. Every outcome, including
// failures, is reported as a Result so callers can always fall back to the
// raw query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/retriever"

	"github.com/54b3r/lawrag/internal/corpus"
	"github.com/54b3r/lawrag/internal/embedder"
	"github.com/54b3r/lawrag/internal/logging"
	"github.com/54b3r/lawrag/internal/prompt"
	"github.com/54b3r/lawrag/internal/rag"
)

// Kind classifies a retrieval outcome.
type Kind string

const (
	// KindEmpty means no context was found or retrieval was degraded.
	KindEmpty Kind = "empty"
	// KindDirect means an explicitly referenced section was found.
	KindDirect Kind = "direct"
	// KindSearch means vector search returned matches.
	KindSearch Kind = "search"
	// KindSectionNotFound means an explicit reference named a missing section.
	KindSectionNotFound Kind = "section_not_found"
)

// referencePattern matches "chapter 5 ... section 63" anywhere in a query.
var referencePattern = regexp.MustCompile(`(?i)chapter\s*(\d+).*section\s*(\d+)`)

// Result is the outcome of one retrieval.
type Result struct {
	// Kind classifies the outcome.
	Kind Kind
	// Query is the caller's original text.
	Query string
	// Prompt is the augmented prompt for KindDirect and KindSearch.
	Prompt string
	// Matches are the vector-search hits, closest first.
	Matches []rag.Match
	// Section is the resolved section for KindDirect.
	Section *corpus.Section
	// Chapter and SectionNumber echo an explicit reference.
	Chapter, SectionNumber int
	// Err is the cause of a degraded KindEmpty result.
	Err error
}

// Found reports whether the result carries an augmented prompt.
func (r Result) Found() bool {
	return r.Kind == KindDirect || r.Kind == KindSearch
}

// PromptOrQuery returns the augmented prompt when one was built and the raw
// query otherwise.
func (r Result) PromptOrQuery() string {
	if r.Found() {
		return r.Prompt
	}
	return r.Query
}

// Config holds the orchestrator's dependencies. Store and Embedder may be
// nil, in which case vector search always degrades to KindEmpty.
type Config struct {
	Corpus   *corpus.Corpus
	Store    rag.VectorStore
	Embedder rag.Embedder
	// TopK is the number of search matches. Defaults to rag.DefaultTopK.
	TopK int
	Log  *slog.Logger
}

// Orchestrator routes queries to direct lookup or vector search.
// It is safe for concurrent use.
type Orchestrator struct {
	corpus *corpus.Corpus
	// vector is nil in degraded mode.
	vector retriever.Retriever
	topK   int
	log    *slog.Logger
}

// New constructs an Orchestrator. It never fails: missing dependencies put
// the vector path in degraded mode.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		corpus: cfg.Corpus,
		topK:   cfg.TopK,
		log:    logging.OrNop(cfg.Log),
	}
	if o.topK <= 0 {
		o.topK = rag.DefaultTopK
	}
	if cfg.Store != nil && cfg.Embedder != nil {
		r, err := NewEinoRetriever(cfg.Store, embedder.ToEino(cfg.Embedder), o.topK)
		if err == nil {
			o.vector = r
		}
	}
	if o.vector == nil {
		o.log.Warn("retrieval: vector search unavailable, running degraded")
	}
	return o
}

// Degraded reports whether vector search is unavailable.
func (o *Orchestrator) Degraded() bool { return o.vector == nil }

// Retrieve resolves query. An explicit chapter/section reference always takes
// the direct path, even when vector search would have found something.
func (o *Orchestrator) Retrieve(ctx context.Context, query string) Result {
	if ch, sec, ok := ParseReference(query); ok {
		return o.Section(ctx, ch, sec, query)
	}
	return o.Search(ctx, query, o.topK)
}

// Section looks up chapter/section in the corpus and builds the section
// prompt around query.
func (o *Orchestrator) Section(_ context.Context, chapter, section int, query string) Result {
	res := Result{Query: query, Chapter: chapter, SectionNumber: section}
	s, ok := o.corpus.Lookup(chapter, section)
	if !ok {
		o.log.Info("retrieval: section not found", slog.Int("chapter", chapter), slog.Int("section", section))
		res.Kind = KindSectionNotFound
		return res
	}
	res.Kind = KindDirect
	res.Section = &s
	res.Prompt = prompt.SectionPrompt(s.Text(), query)
	return res
}

// Search runs vector search for query through the eino retriever. k <= 0
// selects the default.
func (o *Orchestrator) Search(ctx context.Context, query string, k int) Result {
	res := Result{Kind: KindEmpty, Query: query}
	if o.vector == nil {
		res.Err = fmt.Errorf("retrieval: no vector store: %w", rag.ErrUnavailable)
		return res
	}
	if k <= 0 {
		k = o.topK
	}

	docs, err := o.vector.Retrieve(ctx, query, retriever.WithTopK(k))
	if err != nil {
		if !isEmptyIndex(err) {
			o.log.Warn("retrieval: vector search failed, degrading", slog.Any("error", err))
		}
		res.Err = err
		return res
	}
	if len(docs) == 0 {
		return res
	}

	matches := ragMatches(docs)
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Document.Text
	}
	res.Kind = KindSearch
	res.Matches = matches
	res.Prompt = prompt.SearchPrompt(strings.Join(texts, "\n"), query)
	return res
}

// ParseReference extracts an explicit chapter/section reference from query.
// Numbers too large to represent never match an existing section, so they
// are reported as a reference to chapter 0 section 0.
func ParseReference(query string) (chapter, section int, ok bool) {
	m := referencePattern.FindStringSubmatch(query)
	if m == nil {
		return 0, 0, false
	}
	ch, err1 := strconv.Atoi(m[1])
	sec, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, true
	}
	return ch, sec, true
}

// isEmptyIndex reports whether err means the store holds no documents.
func isEmptyIndex(err error) bool {
	return errors.Is(err, rag.ErrEmptyIndex)
}
