// Package ingestion indexes the legal corpus into the vector store and owns
// the service lifecycle state. Indexing runs once, at startup, and only when
// the store is empty. It is invoked by `lawrag index` and `lawrag serve`.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/lawrag/internal/corpus"
	"github.com/54b3r/lawrag/internal/logging"
	"github.com/54b3r/lawrag/internal/rag"
)

// DefaultBatchSize is the number of sections embedded and added per batch.
const DefaultBatchSize = 50

// ErrAlreadyBootstrapped is returned when Bootstrap is called twice.
var ErrAlreadyBootstrapped = errors.New("ingestion: already bootstrapped")

// Config holds the configuration for the indexer.
type Config struct {
	// BatchSize is the number of sections per embed+add batch.
	// Defaults to DefaultBatchSize if zero.
	BatchSize int

	// Progress, when set, is called after every batch with the number of
	// sections indexed so far and the total.
	Progress func(done, total int)
}

// Report summarises a Bootstrap run.
type Report struct {
	// Skipped is true when the store already held documents.
	Skipped bool
	// Existing is the store count observed while loading.
	Existing int
	// Indexed is the number of sections added by this run.
	Indexed int
	// Duration is the wall time of the run.
	Duration time.Duration
}

// Indexer orchestrates the embed -> add flow for the corpus and tracks the
// lifecycle state. State is safe to read from any goroutine.
type Indexer struct {
	// embedder converts section text into dense vectors.
	embedder rag.Embedder

	// store persists the embedded sections.
	store rag.VectorStore

	// cfg holds the resolved indexer configuration.
	cfg Config

	// lc is the lifecycle state machine.
	lc lifecycle

	log *slog.Logger
}

// NewIndexer constructs an Indexer from the provided dependencies and config.
func NewIndexer(embedder rag.Embedder, store rag.VectorStore, cfg *Config, log *slog.Logger) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil: %w", rag.ErrUnavailable)
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Progress == nil {
		c.Progress = func(int, int) {}
	}
	return &Indexer{embedder: embedder, store: store, cfg: c, log: logging.OrNop(log)}, nil
}

// State returns the current lifecycle state.
func (ix *Indexer) State() State {
	return ix.lc.load()
}

// Ready reports whether the indexer has reached StateReady.
func (ix *Indexer) Ready() bool {
	return ix.State() == StateReady
}

// Bootstrap inspects the store and indexes the corpus when the store is
// empty. Loading always ends Ready; an empty store then takes the one-time
// Ready -> Indexing -> Ready transition. A store holding at least one
// document is never re-indexed, so an index left partial by an earlier
// failure stays partial until the store is cleared. An embedding or add
// failure aborts indexing with an error, but the state still ends Ready.
func (ix *Indexer) Bootstrap(ctx context.Context, c *corpus.Corpus) (Report, error) {
	start := time.Now()
	if !ix.lc.advance(StateUninitialized, StateLoading) {
		return Report{}, ErrAlreadyBootstrapped
	}

	existing, err := ix.store.Count(ctx)
	ix.lc.advance(StateLoading, StateReady)
	if err != nil {
		return Report{Duration: time.Since(start)}, fmt.Errorf("ingestion: count: %w", err)
	}

	if existing >= 1 {
		ix.log.Info("index: store already populated, skipping indexing", slog.Int("documents", existing))
		if existing < c.Len() {
			ix.log.Warn("index: store holds fewer documents than the corpus, clear the store to re-index",
				slog.Int("documents", existing),
				slog.Int("sections", c.Len()),
			)
		}
		return Report{Skipped: true, Existing: existing, Duration: time.Since(start)}, nil
	}

	ix.lc.advance(StateReady, StateIndexing)
	indexed, err := ix.index(ctx, c.Sections())
	ix.lc.advance(StateIndexing, StateReady)

	rep := Report{Indexed: indexed, Duration: time.Since(start)}
	if err != nil {
		ix.log.Error("index: aborted", slog.Int("indexed", indexed), slog.Any("error", err))
		return rep, err
	}
	ix.log.Info("index: complete",
		slog.Int("indexed", indexed),
		slog.Duration("duration", rep.Duration),
	)
	return rep, nil
}

// index embeds and adds sections in batches and returns how many were added.
func (ix *Indexer) index(ctx context.Context, sections []corpus.Section) (int, error) {
	total := len(sections)
	if total == 0 {
		ix.log.Warn("index: corpus is empty, nothing to index")
		return 0, nil
	}
	ix.log.Info("index: indexing corpus", slog.Int("sections", total), slog.Int("batch_size", ix.cfg.BatchSize))

	done := 0
	for start := 0; start < total; start += ix.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return done, fmt.Errorf("ingestion: %w", err)
		}
		end := min(start+ix.cfg.BatchSize, total)
		batch := sections[start:end]

		texts := make([]string, len(batch))
		docs := make([]rag.Document, len(batch))
		for i, s := range batch {
			texts[i] = s.Text()
			docs[i] = documentFor(s)
		}

		embeddings, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return done, fmt.Errorf("ingestion: embedding batch %d-%d: %w: %w", start, end, rag.ErrEmbedding, err)
		}
		if err := ix.store.Add(ctx, docs, embeddings); err != nil {
			return done, fmt.Errorf("ingestion: add batch %d-%d: %w", start, end, err)
		}

		done = end
		ix.log.Info("index: batch added", slog.Int("done", done), slog.Int("total", total))
		ix.cfg.Progress(done, total)
	}
	return done, nil
}

// documentFor converts a corpus section into a stored document.
func documentFor(s corpus.Section) rag.Document {
	return rag.Document{
		ID:   s.ID(),
		Text: s.Text(),
		Metadata: rag.Metadata{
			Chapter: s.Chapter,
			Section: s.Section,
			Title:   s.Title,
		},
	}
}
