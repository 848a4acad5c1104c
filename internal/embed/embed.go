// Package embed converts text into dense vectors via a Genkit embedder.
// All provider traffic of the ingestion path goes through this package so
// batching, rate limiting and retries live in one place.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/retry"
)

// Dimensions is the vector size produced by the embedding model. It must
// match the vector column width in the chunks table.
const Dimensions = 768

// maxBatchSize is the largest number of texts sent in one provider call.
// Provider limits sit at 100 inputs per request.
const maxBatchSize = 100

// ErrEmbedding wraps every provider failure so callers can distinguish
// embedding errors from their own.
var ErrEmbedding = errors.New("embedding failed")

// Client embeds text with batching, rate limiting and retry on transient
// provider errors.
type Client struct {
	embedder ai.Embedder
	limiter  *rate.Limiter
	policy   retry.Policy
	logger   log.Logger
}

// New creates a Client. requestsPerMinute bounds outbound provider calls;
// zero or negative disables the limiter.
func New(embedder ai.Embedder, requestsPerMinute int, logger log.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return &Client{
		embedder: embedder,
		limiter:  limiter,
		policy:   retry.DefaultPolicy(),
		logger:   logger,
	}
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in provider-sized batches and returns one vector
// per input, in input order. A transient failure retries the affected batch
// only; any final failure aborts the whole call, so the result length always
// equals len(texts) on success.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for offset := 0; offset < len(texts); offset += maxBatchSize {
		end := min(offset+maxBatchSize, len(texts))
		batch := texts[offset:end]

		batchVectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: batch at offset %d: %w", ErrEmbedding, offset, err)
		}
		vectors = append(vectors, batchVectors...)
	}

	c.logger.Debug("embedded texts", "count", len(texts))
	return vectors, nil
}

// embedBatch performs one rate-limited, retried provider call.
func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(batch))
	for i, text := range batch {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	// gemini-embedding-001 returns 3072-dimensional vectors unless asked to
	// truncate, so the request must carry the vector column width.
	dim := int32(Dimensions)

	return retry.Do(ctx, c.policy, func(ctx context.Context) ([][]float32, error) {
		// Each attempt waits for the limiter, so retries of a rate-limited
		// call do not themselves violate the rate.
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}

		resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
			Input:   docs,
			Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Embeddings), len(batch))
		}

		vectors := make([][]float32, len(batch))
		for i, emb := range resp.Embeddings {
			if len(emb.Embedding) != Dimensions {
				return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(emb.Embedding), Dimensions)
			}
			vectors[i] = emb.Embedding
		}
		return vectors, nil
	})
}
