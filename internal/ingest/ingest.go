// Package ingest orchestrates the ingestion pipeline: acquire a page, split
// it into chunks, embed the chunks and persist everything.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stelwijs/stelwijs/internal/chunk"
	"github.com/stelwijs/stelwijs/internal/knowledge"
	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/scrape"
)

// Acquirer fetches and normalizes a source URL.
type Acquirer interface {
	Acquire(ctx context.Context, url string) (*scrape.Page, error)
}

// Embedder turns chunk contents into vectors, one per input.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the slice of the knowledge store the pipeline needs.
type Store interface {
	CreateDocument(ctx context.Context, title, content, sourceURL string) (*knowledge.Document, error)
	Document(ctx context.Context, id uuid.UUID) (*knowledge.Document, error)
	DocumentBySourceURL(ctx context.Context, sourceURL string) (*knowledge.Document, error)
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, contents []string) ([]knowledge.Chunk, error)
	StoreEmbedding(ctx context.Context, chunkID uuid.UUID, vector []float32) error
}

// Result summarizes one ingestion.
type Result struct {
	DocumentID          uuid.UUID `json:"document_id"`
	Title               string    `json:"title"`
	SourceURL           string    `json:"source_url"`
	ChunksCreated       int       `json:"chunks_created"`
	EmbeddingsGenerated int       `json:"embeddings_generated"`
	Skipped             bool      `json:"skipped"`
}

// Pipeline runs ingestions. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	acquirer Acquirer
	embedder Embedder
	store    Store
	opts     chunk.Options
	logger   log.Logger
}

// New creates a Pipeline. Non-positive chunk sizes and negative overlap fall
// back to the chunk package defaults; a zero overlap is honored.
func New(acquirer Acquirer, embedder Embedder, store Store, opts chunk.Options, logger log.Logger) *Pipeline {
	return &Pipeline{
		acquirer: acquirer,
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
}

// Ingest acquires url and stores its chunks and embeddings. A URL that was
// ingested before is skipped without touching the network; use Reprocess to
// refresh it. No document row is created unless acquisition succeeded, so a
// dead URL leaves no trace.
func (p *Pipeline) Ingest(ctx context.Context, url string) (*Result, error) {
	existing, err := p.store.DocumentBySourceURL(ctx, url)
	switch {
	case err == nil:
		p.logger.Info("document already ingested, skipping", "url", url, "document_id", existing.ID)
		return &Result{
			DocumentID: existing.ID,
			Title:      existing.Title,
			SourceURL:  existing.SourceURL,
			Skipped:    true,
		}, nil
	case !errors.Is(err, knowledge.ErrNotFound):
		return nil, fmt.Errorf("checking for existing document: %w", err)
	}

	page, err := p.acquirer.Acquire(ctx, url)
	if err != nil {
		return nil, err
	}

	doc, err := p.store.CreateDocument(ctx, page.Title, page.Text, page.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	return p.process(ctx, doc, page.Text)
}

// IngestBatch ingests each URL in order, continuing past individual
// failures. It returns the results of the successful ingestions; an error is
// only returned when every URL failed.
func (p *Pipeline) IngestBatch(ctx context.Context, urls []string) ([]Result, error) {
	var results []Result
	var failures []error

	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := p.Ingest(ctx, url)
		if err != nil {
			p.logger.Warn("ingestion failed", "url", url, "error", err)
			failures = append(failures, err)
			continue
		}
		results = append(results, *result)
	}

	if len(results) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("all %d ingestions failed: %w", len(failures), errors.Join(failures...))
	}
	return results, nil
}

// Reprocess rebuilds an existing document's chunks and embeddings from its
// stored text, without re-fetching the source. This picks up chunking
// parameter changes and repairs documents whose embedding run failed.
func (p *Pipeline) Reprocess(ctx context.Context, documentID uuid.UUID) (*Result, error) {
	doc, err := p.store.Document(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("loading document: %w", err)
	}

	return p.process(ctx, doc, doc.Content)
}

// process splits, stores and embeds content for an existing document.
// Chunks are committed before embedding starts: an embedding failure leaves
// the chunks searchless but intact, and a later Reprocess repairs them.
func (p *Pipeline) process(ctx context.Context, doc *knowledge.Document, text string) (*Result, error) {
	contents := chunk.Split(text, p.opts)

	stored, err := p.store.ReplaceChunks(ctx, doc.ID, contents)
	if err != nil {
		return nil, fmt.Errorf("storing chunks: %w", err)
	}

	result := &Result{
		DocumentID:    doc.ID,
		Title:         doc.Title,
		SourceURL:     doc.SourceURL,
		ChunksCreated: len(stored),
	}

	texts := make([]string, len(stored))
	for i, c := range stored {
		texts[i] = c.Content
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks of %s: %w", len(stored), doc.SourceURL, err)
	}

	for i, c := range stored {
		if err := p.store.StoreEmbedding(ctx, c.ID, vectors[i]); err != nil {
			return nil, fmt.Errorf("storing embedding for chunk %d: %w", c.Index, err)
		}
		result.EmbeddingsGenerated++
	}

	p.logger.Info("ingested document",
		"document_id", doc.ID,
		"url", doc.SourceURL,
		"chunks", result.ChunksCreated,
		"embeddings", result.EmbeddingsGenerated)
	return result, nil
}
