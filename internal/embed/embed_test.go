package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"google.golang.org/genai"

	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/retry"
)

// providerDefaultDimensions is what gemini-embedding-001 returns when a
// request does not ask for truncation.
const providerDefaultDimensions = 3072

// fakeEmbedder mimics the provider: deterministic vectors, full-width unless
// the request carries an OutputDimensionality, failing the first N calls.
type fakeEmbedder struct {
	calls      int
	failFirst  int
	failErr    error
	batchSizes []int
	gotDims    []*int32
}

func (f *fakeEmbedder) Name() string            { return "fakeEmbedder" }
func (f *fakeEmbedder) Register(r api.Registry) {}

func (f *fakeEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.calls++
	f.batchSizes = append(f.batchSizes, len(req.Input))

	dims := providerDefaultDimensions
	cfg, _ := req.Options.(*genai.EmbedContentConfig)
	if cfg != nil && cfg.OutputDimensionality != nil {
		dims = int(*cfg.OutputDimensionality)
		f.gotDims = append(f.gotDims, cfg.OutputDimensionality)
	} else {
		f.gotDims = append(f.gotDims, nil)
	}

	if f.calls <= f.failFirst {
		return nil, f.failErr
	}
	resp := &ai.EmbedResponse{}
	for range req.Input {
		vec := make([]float32, dims)
		vec[0] = float32(f.calls)
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: vec})
	}
	return resp, nil
}

func fastClient(embedder ai.Embedder) *Client {
	c := New(embedder, 0, log.NewNop())
	c.policy = retry.Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	return c
}

func TestEmbedSingleText(t *testing.T) {
	fake := &fakeEmbedder{}
	c := fastClient(fake)

	vec, err := c.Embed(context.Background(), "hoe hoog mag een stelling zijn")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != Dimensions {
		t.Errorf("vector has %d dimensions, want %d", len(vec), Dimensions)
	}
}

func TestEmbedRequestsTruncatedDimensionality(t *testing.T) {
	fake := &fakeEmbedder{}
	c := fastClient(fake)

	// Without the truncation option the provider answers full-width and the
	// vectors no longer fit the vector column.
	if _, err := c.Embed(context.Background(), "stellingen"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(fake.gotDims) != 1 || fake.gotDims[0] == nil {
		t.Fatal("request did not ask for an output dimensionality")
	}
	if *fake.gotDims[0] != Dimensions {
		t.Errorf("requested %d dimensions, want %d", *fake.gotDims[0], Dimensions)
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	c := fastClient(&fakeEmbedder{})
	vectors, err := c.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vectors != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", vectors)
	}
}

func TestEmbedBatchSplitsLargeInput(t *testing.T) {
	fake := &fakeEmbedder{}
	c := fastClient(fake)

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}

	vectors, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	wantBatches := []int{100, 100, 50}
	if len(fake.batchSizes) != len(wantBatches) {
		t.Fatalf("provider calls = %v, want %v", fake.batchSizes, wantBatches)
	}
	for i, want := range wantBatches {
		if fake.batchSizes[i] != want {
			t.Errorf("batch %d size = %d, want %d", i, fake.batchSizes[i], want)
		}
	}
}

func TestEmbedBatchRetriesTransientFailure(t *testing.T) {
	fake := &fakeEmbedder{failFirst: 1, failErr: errors.New("429 resource exhausted")}
	c := fastClient(fake)

	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 2 {
		t.Errorf("got %d vectors, want 2", len(vectors))
	}
	if fake.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (one failure, one retry)", fake.calls)
	}
}

func TestEmbedBatchWrapsProviderError(t *testing.T) {
	fake := &fakeEmbedder{failFirst: 10, failErr: errors.New("invalid api key")}
	c := fastClient(fake)

	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, ErrEmbedding) {
		t.Fatalf("error = %v, want ErrEmbedding", err)
	}
	if fake.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (permanent error must not retry)", fake.calls)
	}
}

// countMismatchEmbedder returns fewer embeddings than inputs.
type countMismatchEmbedder struct{ fakeEmbedder }

func (c *countMismatchEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	vec := make([]float32, Dimensions)
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: vec}}}, nil
}

func TestEmbedBatchRejectsCountMismatch(t *testing.T) {
	c := fastClient(&countMismatchEmbedder{})

	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrEmbedding) {
		t.Fatalf("error = %v, want ErrEmbedding", err)
	}
}
