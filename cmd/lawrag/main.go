// Command lawrag is the entry point for the legal-corpus retrieval service.
// It provides a CLI (via Cobra) for indexing the corpus, running one-off
// queries and serving the retrieval HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/lawrag/cmd/lawrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
