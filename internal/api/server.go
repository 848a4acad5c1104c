// Package api exposes the ingestion, search and chat operations over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stelwijs/stelwijs/internal/conversation"
	"github.com/stelwijs/stelwijs/internal/ingest"
	"github.com/stelwijs/stelwijs/internal/knowledge"
	"github.com/stelwijs/stelwijs/internal/log"
)

// Ingestor runs the ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, url string) (*ingest.Result, error)
	IngestBatch(ctx context.Context, urls []string) ([]ingest.Result, error)
	Reprocess(ctx context.Context, documentID uuid.UUID) (*ingest.Result, error)
}

// DocumentStore lists and deletes ingested documents.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]knowledge.DocumentInfo, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
}

// Searcher answers raw similarity queries.
type Searcher interface {
	Lookup(ctx context.Context, query string, topK int) ([]knowledge.SimilarityResult, error)
}

// Responder streams an answer for one chat message.
type Responder interface {
	Respond(ctx context.Context, req conversation.Request, sink conversation.EventSink) (*conversation.Exchange, error)
}

// ServerConfig carries the dependencies for NewServer.
type ServerConfig struct {
	Logger      log.Logger
	Ingestor    Ingestor
	Documents   DocumentStore
	Searcher    Searcher
	Responder   Responder
	Pool        *pgxpool.Pool
	CORSOrigins []string
}

// Server is the HTTP API.
type Server struct {
	cfg     ServerConfig
	logger  log.Logger
	handler http.Handler
}

// NewServer builds the route table and middleware stack.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.handler = s.buildRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// buildRoutes assembles the API routes behind the middleware stack:
// Recovery → RequestID → Logging → CORS → Routes. Health probes bypass the
// stack so orchestration traffic stays out of the request log.
func (s *Server) buildRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/v1/ingest/batch", s.handleIngestBatch)
	mux.HandleFunc("GET /api/v1/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/v1/documents/{id}/reprocess", s.handleReprocess)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)
	mux.HandleFunc("POST /api/v1/chat/stream", s.handleChatStream)

	var handler http.Handler = mux
	handler = corsMiddleware(s.cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(s.logger)(handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger)(handler)

	top := http.NewServeMux()
	top.HandleFunc("GET /health", handleHealth(s.logger))
	top.HandleFunc("GET /ready", handleReady(s.cfg.Pool, s.logger))
	top.Handle("/", handler)
	return top
}
