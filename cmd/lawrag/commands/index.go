package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/lawrag/internal/logging"
)

// NewIndexCmd constructs the `lawrag index` command, which embeds the corpus
// into the vector store when the store is empty.
func NewIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Index the corpus into the vector store",
		Long: `Load the corpus, open the vector store and embed every section when the
store is empty. A store that already holds documents is left untouched.

Environment variables:
  LAWRAG_CORPUS_PATH       Corpus JSON file (default: bns.json)
  LAWRAG_STORE_DIR         Linear index directory (default: ~/.lawrag/vectors)
  LAWRAG_INDEX_BATCH_SIZE  Sections per embedding batch (default: 50)
  QDRANT_HOST              Use Qdrant when set (QDRANT_PORT, QDRANT_COLLECTION,
                           QDRANT_API_KEY, QDRANT_TLS)
  EMBEDDING_PROVIDER       ollama, openai, azure or gemini (default: ollama)
  EMBEDDING_CACHE_DB       Embedding cache path, or "disabled"

Examples:
  lawrag index
  LAWRAG_CORPUS_PATH=data/bns.json lawrag index`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			out := cmd.OutOrStdout()

			progress := func(done, total int) {
				fmt.Fprintf(cmd.ErrOrStderr(), "indexed %d/%d sections\n", done, total)
			}
			rt, err := openRuntime(ctx, log, progress)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer rt.Close()

			rep, err := rt.bootstrap(ctx, log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			count, err := rt.store.Count(ctx)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			log.Info("index: finished",
				slog.String("backend", rt.backend),
				slog.Bool("skipped", rep.Skipped),
				slog.Int("indexed", rep.Indexed),
				slog.Int("documents", count),
			)

			if rep.Skipped {
				fmt.Fprintf(out, "store already populated (%s): %d documents\n", rt.backend, count)
				return nil
			}
			fmt.Fprintf(out, "indexed %d sections into %s store: %d documents\n", rep.Indexed, rt.backend, count)
			return nil
		},
	}
}
