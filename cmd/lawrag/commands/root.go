// Package commands defines all Cobra CLI commands for the lawrag binary.
package commands

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/lawrag/internal/audit"
	"github.com/54b3r/lawrag/internal/config"
	"github.com/54b3r/lawrag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lawrag",
		Short: "Retrieval over the Bharatiya Nyaya Sanhita for legal assistants",
		Long: `lawrag indexes the sections of the Bharatiya Nyaya Sanhita into a vector
store and answers legal questions with a retrieval-augmented prompt.

Queries naming a chapter and section ("chapter 17 section 303") are answered
by direct lookup; everything else goes through semantic search. The HTTP API
also assembles ranked conversation history into a bounded context block.

Settings come from environment variables, a .env file, or a YAML config file
(~/.lawrag/config.yaml). Environment variables always win.
See 'lawrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is normal outside local development.
			dotenvErr := godotenv.Load()

			log := logging.New()
			if dotenvErr != nil {
				log.Debug("config: no .env file loaded", slog.Any("reason", dotenvErr))
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.lawrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIndexCmd(),
		NewQueryCmd(),
		NewVersionCmd(),
	)

	return root
}
