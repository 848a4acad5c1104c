package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stelwijs/stelwijs/internal/database"
	"github.com/stelwijs/stelwijs/internal/knowledge"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List indexed documents",
	RunE:  runListDocuments,
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteDocument,
}

func init() {
	documentsCmd.AddCommand(documentsDeleteCmd)
	rootCmd.AddCommand(documentsCmd)
}

// withKnowledgeStore connects to the database and runs fn against the store.
// Document management needs no model access, so GEMINI_API_KEY is not
// required here.
func withKnowledgeStore(fn func(ctx context.Context, store *knowledge.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	pool, cleanup, err := database.Connect(ctx, cfg.PostgresURL())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer cleanup()

	store, err := knowledge.NewStore(pool, logger)
	if err != nil {
		return err
	}
	return fn(ctx, store)
}

func runListDocuments(cmd *cobra.Command, args []string) error {
	return withKnowledgeStore(func(ctx context.Context, store *knowledge.Store) error {
		docs, err := store.ListDocuments(ctx)
		if err != nil {
			return fmt.Errorf("listing documents: %w", err)
		}
		if len(docs) == 0 {
			cmd.Println("no documents ingested yet")
			return nil
		}
		for _, d := range docs {
			cmd.Printf("%s  %-40q  %3d chunks  %s\n",
				d.ID, d.Title, d.ChunkCount, d.SourceURL)
		}
		return nil
	})
}

func runDeleteDocument(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", args[0], err)
	}

	return withKnowledgeStore(func(ctx context.Context, store *knowledge.Store) error {
		if err := store.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("deleting document %s: %w", id, err)
		}
		cmd.Printf("deleted %s\n", id)
		return nil
	})
}
