// Package cmd provides the stelwijs CLI commands.
//
// Commands:
//   - ingest: fetch pages and index them into the knowledge base
//   - reprocess: re-chunk and re-embed a document from its stored text
//   - documents: list or delete indexed documents
//   - ask: ask one question and stream the answer to the terminal
//   - serve: run the HTTP API server
//   - migrate: run database migrations and exit
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stelwijs/stelwijs/internal/config"
	"github.com/stelwijs/stelwijs/internal/log"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "stelwijs",
	Short: "Stelwijs - warehouse safety knowledge assistant",
	Long: `Stelwijs ingests warehouse safety documentation from the web and answers
questions about it, grounded in the indexed sources with citations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "enable debug logging")
}

// newLogger builds the process logger. DEBUG in the environment works too, so
// debug logging can be enabled without changing the invocation.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if debugLogging || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// checkRequiredEnv verifies GEMINI_API_KEY is present before any command
// that talks to the model.
func checkRequiredEnv() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Stelwijs needs a Gemini API key for embeddings and answers:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get an API key at: https://ai.google.dev/")
		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	return nil
}
