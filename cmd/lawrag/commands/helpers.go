package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/54b3r/lawrag/internal/corpus"
	"github.com/54b3r/lawrag/internal/embedcache"
	"github.com/54b3r/lawrag/internal/embedder"
	"github.com/54b3r/lawrag/internal/ingestion"
	"github.com/54b3r/lawrag/internal/rag"
	"github.com/54b3r/lawrag/internal/retrieval"
)

// defaultCorpusPath is used when LAWRAG_CORPUS_PATH is unset.
const defaultCorpusPath = "bns.json"

// runtime bundles the process-wide handles shared by serve, index and query.
type runtime struct {
	corpus *corpus.Corpus
	// embedder is nil when the embedding backend is misconfigured; only
	// direct lookups are answered then.
	embedder rag.Embedder
	// embedderErr is why embedder is nil.
	embedderErr error
	// cache is nil when the embedding cache is disabled or failed to open.
	cache *embedcache.Cache
	// store is nil when no backend could be opened; retrieval then runs degraded.
	store   rag.VectorStore
	backend string
	// indexer is nil whenever store or embedder is nil.
	indexer *ingestion.Indexer
	closers []func()
}

// Close releases every handle opened by openRuntime, in reverse order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// orchestrator builds the retrieval orchestrator over the runtime handles.
func (rt *runtime) orchestrator(topK int, log *slog.Logger) *retrieval.Orchestrator {
	return retrieval.New(retrieval.Config{
		Corpus:   rt.corpus,
		Store:    rt.store,
		Embedder: rt.embedder,
		TopK:     topK,
		Log:      log,
	})
}

// openRuntime loads the corpus, builds the embedder and opens the vector
// store. None of these failures is fatal: an unreadable corpus is replaced by
// an empty one, and a missing embedder or store is logged and left nil so
// retrieval runs degraded. progress, when set, receives indexing progress.
func openRuntime(ctx context.Context, log *slog.Logger, progress func(done, total int)) (*runtime, error) {
	rt := &runtime{}

	path := getEnvOrDefault("LAWRAG_CORPUS_PATH", defaultCorpusPath)
	c, err := corpus.Load(path, log)
	if err != nil {
		log.Warn("corpus: failed to load, continuing with an empty corpus",
			slog.String("path", path), slog.Any("error", err))
	}
	rt.corpus = c

	emb, cache, err := buildEmbedder(ctx, log)
	if err != nil {
		log.Warn("embedder: unavailable, vector search disabled", slog.Any("error", err))
		rt.embedderErr = err
	}
	rt.embedder = emb
	if cache != nil {
		rt.cache = cache
		rt.closers = append(rt.closers, func() { _ = cache.Close() })
	}

	store, backend, err := buildStore(ctx, log)
	if err != nil {
		log.Warn("store: no vector store available, vector search disabled", slog.Any("error", err))
		return rt, nil
	}
	rt.store = store
	rt.backend = backend
	rt.closers = append(rt.closers, func() { _ = store.Close() })

	if emb == nil {
		return rt, nil
	}
	ix, err := ingestion.NewIndexer(emb, store, &ingestion.Config{
		BatchSize: getEnvInt("LAWRAG_INDEX_BATCH_SIZE", ingestion.DefaultBatchSize),
		Progress:  progress,
	}, log)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("index: %w", err)
	}
	rt.indexer = ix
	return rt, nil
}

// buildEmbedder validates the embedding settings, constructs the backend and
// wraps it in the SQLite cache. EMBEDDING_CACHE_DB overrides the default path
// (~/.lawrag/embeddings.db); "disabled" turns the cache off. A cache that
// fails to open is skipped with a warning.
func buildEmbedder(ctx context.Context, log *slog.Logger) (rag.Embedder, *embedcache.Cache, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, nil, err
	}
	base, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	settings := embedder.SettingsFromEnv()
	log.Info("embedder initialised",
		slog.String("provider", settings.Backend),
		slog.String("model", settings.Model),
		slog.Int("dimensions", settings.Dimensions),
	)

	dbPath := os.Getenv("EMBEDDING_CACHE_DB")
	if dbPath == "disabled" {
		log.Info("embedcache: disabled via EMBEDDING_CACHE_DB=disabled")
		return base, nil, nil
	}
	if dbPath == "" {
		dbPath, err = embedcache.DefaultDBPath()
		if err != nil {
			log.Warn("embedcache: could not resolve default DB path, disabling", slog.Any("error", err))
			return base, nil, nil
		}
	}
	cache, err := embedcache.Open(dbPath, settings.Backend+"/"+settings.Model, base, log)
	if err != nil {
		log.Warn("embedcache: failed to open, disabling", slog.Any("error", err))
		return base, nil, nil
	}
	n, err := cache.Len(ctx)
	if err != nil {
		log.Warn("embedcache: could not count entries", slog.Any("error", err))
	}
	log.Info("embedcache: opened", slog.String("path", dbPath), slog.Int("entries", n))
	return cache, cache, nil
}

// buildStore opens Qdrant when QDRANT_HOST is set and falls back to the
// linear index under LAWRAG_STORE_DIR (default ~/.lawrag/vectors).
func buildStore(ctx context.Context, log *slog.Logger) (rag.VectorStore, string, error) {
	cfg := rag.OpenConfig{LinearDir: storeDir(log)}

	if host := os.Getenv("QDRANT_HOST"); host != "" {
		dims := embedder.SettingsFromEnv().Dimensions
		cfg.Qdrant = &rag.QdrantConfig{
			Host:       host,
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "bns_collection"),
			VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		}
	}
	return rag.Open(ctx, cfg, log)
}

// storeDir resolves the linear index directory. An empty result disables
// the linear fallback.
func storeDir(log *slog.Logger) string {
	if dir := os.Getenv("LAWRAG_STORE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		log.Warn("store: could not determine home directory, linear index disabled", slog.Any("error", err))
		return ""
	}
	return filepath.Join(home, ".lawrag", "vectors")
}

// bootstrap runs the indexer and logs failures. Without a store or embedder
// it returns an error wrapping rag.ErrUnavailable.
func (rt *runtime) bootstrap(ctx context.Context, log *slog.Logger) (ingestion.Report, error) {
	if rt.indexer == nil {
		if rt.embedderErr != nil {
			return ingestion.Report{}, fmt.Errorf("index: embedder: %w: %w", rag.ErrUnavailable, rt.embedderErr)
		}
		return ingestion.Report{}, fmt.Errorf("index: %w", rag.ErrUnavailable)
	}
	rep, err := rt.indexer.Bootstrap(ctx, rt.corpus)
	if err != nil && !errors.Is(err, ingestion.ErrAlreadyBootstrapped) {
		log.Error("index: bootstrap failed", slog.Any("error", err))
	}
	return rep, err
}

// getEnvOrDefault returns the value of key, or fallback if unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of key, or fallback if unset or invalid.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat returns a pointer to the float value of key, or nil if unset
// or invalid.
func getEnvFloat(key string) *float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}
