package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/lawrag/internal/logging"
)

// Backend names reported by Open.
const (
	BackendQdrant = "qdrant"
	BackendLinear = "linear"
)

// OpenConfig selects and configures the vector store backend.
type OpenConfig struct {
	// Qdrant configures the managed index. Nil skips it.
	Qdrant *QdrantConfig
	// LinearDir is the directory of the linear fallback index. Empty disables
	// the fallback.
	LinearDir string
}

// Open returns the managed store when it is configured and reachable,
// otherwise the linear index in LinearDir. The returned string names the
// backend in use. When neither can be opened the error wraps
// ErrUnavailable and the caller is expected to run without a store.
func Open(ctx context.Context, cfg OpenConfig, log *slog.Logger) (VectorStore, string, error) {
	log = logging.OrNop(log)

	var managedErr error
	if cfg.Qdrant != nil {
		store, err := NewQdrantStore(ctx, *cfg.Qdrant)
		if err == nil {
			log.Info("store: using managed index",
				slog.String("backend", BackendQdrant),
				slog.String("host", cfg.Qdrant.Host),
				slog.String("collection", store.Collection()),
			)
			return store, BackendQdrant, nil
		}
		managedErr = err
		log.Warn("store: managed index unavailable, falling back to linear index", slog.Any("error", err))
	}

	if cfg.LinearDir == "" {
		if managedErr != nil {
			return nil, "", fmt.Errorf("store: no fallback configured: %w", managedErr)
		}
		return nil, "", fmt.Errorf("store: no backend configured: %w", ErrUnavailable)
	}

	store, err := OpenLinearStore(cfg.LinearDir, log)
	if err != nil {
		return nil, "", fmt.Errorf("store: linear index: %w: %w", ErrUnavailable, err)
	}
	log.Info("store: using linear index",
		slog.String("backend", BackendLinear),
		slog.String("dir", cfg.LinearDir),
	)
	return store, BackendLinear, nil
}
