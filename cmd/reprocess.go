package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stelwijs/stelwijs/internal/app"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <document-id>",
	Short: "Re-chunk and re-embed a document from its stored text",
	Args:  cobra.ExactArgs(1),
	RunE:  runReprocess,
}

func init() {
	rootCmd.AddCommand(reprocessCmd)
}

func runReprocess(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", args[0], err)
	}

	if err := checkRequiredEnv(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	result, err := a.Pipeline.Reprocess(ctx, id)
	if err != nil {
		return fmt.Errorf("reprocessing %s: %w", id, err)
	}
	printResult(cmd, *result)
	return nil
}
