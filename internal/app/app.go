// Package app wires the application together: configuration, database,
// genkit, and the ingestion and conversation components built on top.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stelwijs/stelwijs/internal/config"
	"github.com/stelwijs/stelwijs/internal/conversation"
	"github.com/stelwijs/stelwijs/internal/ingest"
	"github.com/stelwijs/stelwijs/internal/knowledge"
	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/retrieval"
	"github.com/stelwijs/stelwijs/internal/scrape"
)

// App is the application container. Setup fills it; Close releases it.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool

	Knowledge     *knowledge.Store
	Conversations *conversation.Store
	Acquirer      *scrape.Acquirer
	Pipeline      *ingest.Pipeline
	Engine        *retrieval.Engine
	Orchestrator  *conversation.Orchestrator

	dbCleanup func()
}

// Close releases all resources acquired during Setup.
func (a *App) Close() {
	if a.dbCleanup != nil {
		a.dbCleanup()
		a.Logger.Info("database pool closed")
	}
}
