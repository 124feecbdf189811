package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/lawrag/internal/ingestion"
	"github.com/54b3r/lawrag/internal/rag"
)

// QdrantPinger checks a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to check.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// StorePinger reports the vector store ready when it can be counted and
// holds at least one document.
type StorePinger struct {
	store rag.VectorStore
}

// NewStorePinger constructs a StorePinger. A nil store always fails, which
// surfaces degraded mode on /api/ready.
func NewStorePinger(store rag.VectorStore) *StorePinger {
	return &StorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "store" }

// Ping counts the store.
func (p *StorePinger) Ping(ctx context.Context) error {
	if p.store == nil {
		return rag.ErrUnavailable
	}
	n, err := p.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count failed: %w", err)
	}
	if n == 0 {
		return rag.ErrEmptyIndex
	}
	return nil
}

// stateReporter is satisfied by *ingestion.Indexer.
type stateReporter interface {
	State() ingestion.State
}

// IndexPinger fails until startup indexing has finished.
type IndexPinger struct {
	indexer stateReporter
}

// NewIndexPinger constructs an IndexPinger.
func NewIndexPinger(indexer stateReporter) *IndexPinger {
	return &IndexPinger{indexer: indexer}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "index" }

// Ping reports whether the lifecycle reached Ready.
func (p *IndexPinger) Ping(context.Context) error {
	if st := p.indexer.State(); st != ingestion.StateReady {
		return fmt.Errorf("index is %s", st)
	}
	return nil
}

// FuncPinger adapts a ping function, such as the history provider's or the
// embedding cache's, to Pinger.
type FuncPinger struct {
	name string
	fn   func(context.Context) error
}

// NewFuncPinger constructs a FuncPinger.
func NewFuncPinger(name string, fn func(context.Context) error) *FuncPinger {
	return &FuncPinger{name: name, fn: fn}
}

// Name returns the dependency label used in readiness responses.
func (p *FuncPinger) Name() string { return p.name }

// Ping calls the wrapped function.
func (p *FuncPinger) Ping(ctx context.Context) error { return p.fn(ctx) }
