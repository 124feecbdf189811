package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/lawrag/internal/logging"
	"github.com/54b3r/lawrag/internal/rag"
	"github.com/54b3r/lawrag/internal/retrieval"
)

// NewQueryCmd constructs the `lawrag query` command, which runs one retrieval
// and prints the augmented prompt.
func NewQueryCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run one retrieval and print the augmented prompt",
		Long: `Run the retrieval orchestrator once against the indexed corpus.

Queries naming a chapter and section are answered by direct lookup; all
other queries use vector search. The query does not index the corpus: run
'lawrag index' first.

Examples:
  lawrag query "What does chapter 17 section 303 say?"
  lawrag query --top-k 5 "punishment for theft of a mobile phone"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			out := cmd.OutOrStdout()

			rt, err := openRuntime(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer rt.Close()

			if topK <= 0 {
				topK = getEnvInt("LAWRAG_TOP_K", rag.DefaultTopK)
			}
			orch := rt.orchestrator(topK, log)

			res := orch.Retrieve(ctx, strings.Join(args, " "))
			switch res.Kind {
			case retrieval.KindDirect, retrieval.KindSearch:
				fmt.Fprintln(out, res.Prompt)
			case retrieval.KindSectionNotFound:
				fmt.Fprintf(out, "Chapter %d, Section %d was not found in the corpus.\n", res.Chapter, res.SectionNumber)
			default:
				fmt.Fprintln(out, emptyMessage(res.Err))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of sections to retrieve (default: LAWRAG_TOP_K or 3)")

	return cmd
}

// emptyMessage explains an empty retrieval to the CLI user.
func emptyMessage(err error) string {
	switch {
	case err == nil:
		return "No relevant sections found."
	case errors.Is(err, rag.ErrEmptyIndex):
		return "The vector store is empty. Run 'lawrag index' first."
	case errors.Is(err, rag.ErrUnavailable):
		return "Vector search is unavailable; only chapter/section lookups can be answered."
	default:
		return fmt.Sprintf("Vector search failed: %v", err)
	}
}
