package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/lawrag/internal/history"
	"github.com/54b3r/lawrag/internal/logging"
	"github.com/54b3r/lawrag/internal/rag"
	"github.com/54b3r/lawrag/internal/server"
	"github.com/54b3r/lawrag/internal/tracing"
	"github.com/54b3r/lawrag/internal/version"
)

// NewServeCmd constructs the `lawrag serve` command, which indexes the corpus
// in the background and starts the retrieval HTTP server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lawrag HTTP server",
		Long: `Start the lawrag HTTP server.

The corpus is loaded and the vector store opened before the server starts.
When the store is empty the corpus is indexed in the background; direct
chapter/section lookups work immediately and /api/ready reports the index
state until indexing finishes.

When no vector store can be opened, or the embedding backend is
misconfigured, the server still starts: direct lookups keep working and
vector search returns an empty result.

Endpoints:
  POST /api/retrieve          retrieve context for a query
  POST /api/retrieve/section  look up one chapter/section
  POST /api/context           rank conversation history into a context block
  GET  /api/health            liveness
  GET  /api/ready             readiness of store, index and history
  GET  /metrics               Prometheus metrics

Examples:
  lawrag serve
  lawrag serve --port 9090
  QDRANT_HOST=localhost lawrag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("version", version.String()))

			// Langfuse tracing is opt-in and a no-op when the keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			rt, err := openRuntime(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			orch := rt.orchestrator(getEnvInt("LAWRAG_TOP_K", rag.DefaultTopK), log)

			pingers := []server.Pinger{
				server.NewStorePinger(rt.store),
				server.NewFuncPinger("vector_search", func(context.Context) error {
					if orch.Degraded() {
						return rag.ErrUnavailable
					}
					return nil
				}),
			}
			if qs, ok := rt.store.(*rag.QdrantStore); ok {
				pingers = append(pingers, server.NewQdrantPinger(qs.Client()))
			}

			indexed := make(chan struct{})
			if rt.indexer != nil {
				pingers = append(pingers, server.NewIndexPinger(rt.indexer))
				go func() {
					defer close(indexed)
					_, _ = rt.bootstrap(ctx, log)
				}()
			} else {
				close(indexed)
			}
			// Runs before rt.Close so the indexer never writes to a closed store.
			defer func() { <-indexed }()

			if rt.cache != nil {
				pingers = append(pingers, server.NewFuncPinger("embedding_cache", rt.cache.Ping))
			}

			var hist history.Provider
			switch url := os.Getenv("LAWRAG_HISTORY_URL"); {
			case url != "" && rt.embedder == nil:
				log.Warn("history: disabled, no embedder available", slog.String("url", url))
			case url != "":
				hp := history.NewHTTPProvider(url, nil)
				hist = hp
				pingers = append(pingers, server.NewFuncPinger("history", hp.Ping))
				log.Info("history: provider configured", slog.String("url", url))
			default:
				log.Info("history: disabled, LAWRAG_HISTORY_URL not set")
			}

			srv, err := server.New(server.Deps{
				Retriever: orch,
				History:   hist,
				Embedder:  rt.embedder,
			}, &server.Config{
				Host:          host,
				Port:          port,
				Logger:        log,
				Pingers:       pingers,
				HistoryTopN:   getEnvInt("LAWRAG_HISTORY_TOP_N", history.DefaultTopN),
				RecencyWeight: getEnvFloat("LAWRAG_RECENCY_WEIGHT"),
				ContextBudget: getEnvInt("LAWRAG_CONTEXT_BUDGET", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("LAWRAG_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("LAWRAG_PORT", 8080), "TCP port to listen on")

	return cmd
}
