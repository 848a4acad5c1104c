// Package retrieval turns a question into grounding context: the most
// relevant stored chunks, rendered as numbered passages with citations.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stelwijs/stelwijs/internal/knowledge"
	"github.com/stelwijs/stelwijs/internal/log"
)

// Retrieval defaults. Tunable per call via options.
const (
	DefaultTopK = 5

	// DefaultMinSimilarity is the cosine similarity floor below which a
	// chunk is considered noise rather than grounding.
	DefaultMinSimilarity = 0.3
)

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers vector similarity queries.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]knowledge.SimilarityResult, error)
}

// Citation points a passage number back at its source document. The snippet
// is a short excerpt of the first passage cited from that source.
type Citation struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// GroundingContext is the retrieval outcome for one question. When Grounded
// is false nothing relevant was found and Text is empty; the caller must not
// let the model answer from its own knowledge in that case.
type GroundingContext struct {
	Grounded   bool
	Text       string
	Citations  []Citation
	ChunksUsed int
}

// Option tunes a single Retrieve call.
type Option func(*searchOptions)

type searchOptions struct {
	topK          int
	minSimilarity float64
}

// WithTopK overrides how many chunks are requested from the store.
func WithTopK(k int) Option {
	return func(o *searchOptions) { o.topK = k }
}

// WithMinSimilarity overrides the similarity floor.
func WithMinSimilarity(s float64) Option {
	return func(o *searchOptions) { o.minSimilarity = s }
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithDefaults overrides the per-call defaults for topK and the similarity
// floor.
func WithDefaults(topK int, minSimilarity float64) EngineOption {
	return func(e *Engine) {
		if topK > 0 {
			e.defaultTopK = topK
		}
		e.defaultMinSimilarity = minSimilarity
	}
}

// WithSearchTimeout bounds each retrieval independently of the caller's
// deadline. Retrieval sits on the chat critical path; a slow search should
// fail the question, not stall the stream. Zero disables the bound.
func WithSearchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// Engine retrieves grounding context for questions.
type Engine struct {
	embedder Embedder
	searcher Searcher
	logger   log.Logger

	defaultTopK          int
	defaultMinSimilarity float64
	timeout              time.Duration
}

// NewEngine creates an Engine.
func NewEngine(embedder Embedder, searcher Searcher, logger log.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		embedder:             embedder,
		searcher:             searcher,
		logger:               logger,
		defaultTopK:          DefaultTopK,
		defaultMinSimilarity: DefaultMinSimilarity,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve embeds the question, searches the store and renders the hits that
// clear the similarity floor into numbered passages. An empty result set is
// not an error; it yields an ungrounded context.
func (e *Engine) Retrieve(ctx context.Context, question string, opts ...Option) (*GroundingContext, error) {
	options := searchOptions{topK: e.defaultTopK, minSimilarity: e.defaultMinSimilarity}
	for _, opt := range opts {
		opt(&options)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vector, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	results, err := e.searcher.Search(ctx, vector, options.topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	var used []knowledge.SimilarityResult
	for _, r := range results {
		if r.Similarity >= options.minSimilarity {
			used = append(used, r)
		}
	}

	e.logSimilarities(results, len(used), options)

	if len(used) == 0 {
		return &GroundingContext{}, nil
	}

	return render(used), nil
}

// Lookup embeds the query and returns the raw similarity hits without
// rendering. Unlike Retrieve it applies no similarity floor; callers see the
// scores and judge for themselves.
func (e *Engine) Lookup(ctx context.Context, query string, topK int) ([]knowledge.SimilarityResult, error) {
	if topK <= 0 {
		topK = e.defaultTopK
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := e.searcher.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	return results, nil
}

// render numbers the passages and collects one citation per source URL,
// keeping the passage number of the source's first appearance.
func render(results []knowledge.SimilarityResult) *GroundingContext {
	var b strings.Builder
	var citations []Citation
	cited := make(map[string]bool)

	for i, r := range results {
		source := r.SourceURL
		if source == "" {
			source = r.DocumentTitle
		}

		fmt.Fprintf(&b, "[%d] (source: %s)\n%s", i+1, source, r.Content)
		if i < len(results)-1 {
			b.WriteString("\n\n")
		}

		if !cited[source] {
			cited[source] = true
			citations = append(citations, Citation{
				Index:   i + 1,
				Title:   r.DocumentTitle,
				URL:     r.SourceURL,
				Snippet: r.Snippet,
			})
		}
	}

	return &GroundingContext{
		Grounded:   true,
		Text:       b.String(),
		Citations:  citations,
		ChunksUsed: len(results),
	}
}

// logSimilarities records score statistics for tuning the floor. Chunk
// content never reaches the log.
func (e *Engine) logSimilarities(results []knowledge.SimilarityResult, used int, options searchOptions) {
	if len(results) == 0 {
		e.logger.Debug("retrieval found no candidates", "top_k", options.topK)
		return
	}

	minSim, maxSim, sum := results[0].Similarity, results[0].Similarity, 0.0
	for _, r := range results {
		minSim = min(minSim, r.Similarity)
		maxSim = max(maxSim, r.Similarity)
		sum += r.Similarity
	}

	e.logger.Debug("retrieval scored candidates",
		"candidates", len(results),
		"used", used,
		"min_similarity", minSim,
		"max_similarity", maxSim,
		"mean_similarity", sum/float64(len(results)),
		"floor", options.minSimilarity)
}
