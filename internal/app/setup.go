package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stelwijs/stelwijs/db"
	"github.com/stelwijs/stelwijs/internal/chunk"
	"github.com/stelwijs/stelwijs/internal/config"
	"github.com/stelwijs/stelwijs/internal/conversation"
	"github.com/stelwijs/stelwijs/internal/database"
	"github.com/stelwijs/stelwijs/internal/embed"
	"github.com/stelwijs/stelwijs/internal/ingest"
	"github.com/stelwijs/stelwijs/internal/knowledge"
	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/retrieval"
	"github.com/stelwijs/stelwijs/internal/scrape"
)

// Setup builds the full application from configuration. On failure it tears
// down whatever was already initialized.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.dbCleanup = dbCleanup

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	knowledgeStore, err := knowledge.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Knowledge = knowledgeStore

	conversationStore, err := conversation.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating conversation store: %w", err)
	}
	a.Conversations = conversationStore

	embedClient := embed.New(embedder, cfg.EmbedRequestsPerMinute, logger)

	a.Acquirer = scrape.New(scrape.Config{
		ServiceURL: cfg.ScraperBaseURL,
		APIKey:     cfg.ScraperAPIKey,
	}, logger)

	a.Pipeline = ingest.New(a.Acquirer, embedClient, knowledgeStore, chunk.Options{
		MaxSize: cfg.ChunkMaxSize,
		Overlap: cfg.ChunkOverlap,
	}, logger)

	a.Engine = retrieval.NewEngine(embedClient, knowledgeStore, logger,
		retrieval.WithDefaults(cfg.TopK, cfg.MinSimilarity),
		retrieval.WithSearchTimeout(cfg.RetrievalTimeout()),
	)

	generator := conversation.NewGenkitGenerator(g, cfg.FullModelName())
	a.Orchestrator = conversation.NewOrchestrator(a.Engine, generator, conversationStore, logger)

	return a, nil
}

// provideDBPool runs migrations and opens the shared connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, func(), error) {
	connURL := cfg.PostgresURL()

	if err := db.Migrate(connURL, logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, cleanup, err := database.Connect(ctx, connURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, cleanup, nil
}

// provideGenkit initializes genkit with the Google AI plugin. The plugin
// reads GEMINI_API_KEY from the environment itself.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	return g, nil
}

// provideEmbedder looks up the embedder registered by the Google AI plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
}
