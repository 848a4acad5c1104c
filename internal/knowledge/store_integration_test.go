package knowledge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/stelwijs/stelwijs/internal/embed"
	"github.com/stelwijs/stelwijs/internal/knowledge"
	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/testutil"
)

// unitVector returns a vector with all weight on one dimension, giving exact
// cosine similarities: 1 for the same axis, 0 for different axes.
func unitVector(axis int) []float32 {
	v := make([]float32, embed.Dimensions)
	v[axis] = 1
	return v
}

// blendVector mixes two axes so similarity against either axis lands strictly
// between 0 and 1.
func blendVector(a, b int) []float32 {
	v := make([]float32, embed.Dimensions)
	v[a] = 0.8
	v[b] = 0.6
	return v
}

func setupStore(t *testing.T) (*knowledge.Store, context.Context) {
	t.Helper()
	tdb := testutil.SetupPostgres(t)
	store, err := knowledge.NewStore(tdb.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, context.Background()
}

func TestStoreDocumentLifecycle(t *testing.T) {
	store, ctx := setupStore(t)

	doc, err := store.CreateDocument(ctx, "Stellingkeuring", "Volledige tekst over stellingkeuring.", "https://example.com/keuring")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.ID == uuid.Nil {
		t.Error("document id not assigned")
	}
	if doc.Content != "Volledige tekst over stellingkeuring." {
		t.Errorf("stored content = %q", doc.Content)
	}

	found, err := store.DocumentBySourceURL(ctx, "https://example.com/keuring")
	if err != nil {
		t.Fatalf("DocumentBySourceURL: %v", err)
	}
	if found.ID != doc.ID {
		t.Errorf("found id %s, want %s", found.ID, doc.ID)
	}

	if _, err := store.DocumentBySourceURL(ctx, "https://example.com/onbekend"); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("missing url: error = %v, want ErrNotFound", err)
	}

	byID, err := store.Document(ctx, doc.ID)
	if err != nil || byID.Title != "Stellingkeuring" || byID.Content != doc.Content {
		t.Errorf("Document(%s) = %+v, %v", doc.ID, byID, err)
	}

	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if err := store.DeleteDocument(ctx, doc.ID); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("second delete: error = %v, want ErrNotFound", err)
	}
}

func TestStoreReplaceChunks(t *testing.T) {
	store, ctx := setupStore(t)

	doc, err := store.CreateDocument(ctx, "Belasting", "Tekst over belasting.", "https://example.com/belasting")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	first, err := store.ReplaceChunks(ctx, doc.ID, []string{"een", "twee", "drie"})
	if err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("got %d chunks, want 3", len(first))
	}
	for i, c := range first {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}

	// Replacement drops the old set entirely.
	second, err := store.ReplaceChunks(ctx, doc.ID, []string{"vier", "vijf"})
	if err != nil {
		t.Fatalf("ReplaceChunks (second): %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("got %d chunks after replacement, want 2", len(second))
	}

	count, err := store.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks: %v", err)
	}
	if count != 2 {
		t.Errorf("CountChunks = %d, want 2", count)
	}

	if _, err := store.ReplaceChunks(ctx, uuid.New(), []string{"x"}); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("unknown document: error = %v, want ErrNotFound", err)
	}
}

func TestStoreSearch(t *testing.T) {
	store, ctx := setupStore(t)

	doc, err := store.CreateDocument(ctx, "Veiligheid", "Tekst over veiligheid.", "https://example.com/veiligheid")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	chunks, err := store.ReplaceChunks(ctx, doc.ID, []string{
		"Ankers controleren bij elke periodieke keuring.",
		"Belastingborden moeten zichtbaar zijn aan elk gangpad.",
		"Beschadigde staanders direct melden.",
	})
	if err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	// Chunk 0 matches the query axis exactly, chunk 1 partially, chunk 2 is
	// orthogonal. Chunk 2 gets no embedding at all.
	if err := store.StoreEmbedding(ctx, chunks[0].ID, unitVector(0)); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}
	if err := store.StoreEmbedding(ctx, chunks[1].ID, blendVector(0, 1)); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	results, err := store.Search(ctx, unitVector(0), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (unembedded chunk must be invisible)", len(results))
	}

	best := results[0]
	if best.ChunkID != chunks[0].ID {
		t.Errorf("best match = chunk %d, want chunk 0", best.ChunkIndex)
	}
	if best.Similarity < 0.99 {
		t.Errorf("exact match similarity = %f, want ~1", best.Similarity)
	}
	if results[1].Similarity >= best.Similarity {
		t.Error("results not ordered by similarity")
	}
	if best.DocumentTitle != "Veiligheid" || best.SourceURL != "https://example.com/veiligheid" {
		t.Errorf("result missing document join: %+v", best)
	}
	if best.Snippet == "" {
		t.Error("result missing snippet")
	}

	// topK caps the result set.
	one, err := store.Search(ctx, unitVector(0), 1)
	if err != nil {
		t.Fatalf("Search(topK=1): %v", err)
	}
	if len(one) != 1 {
		t.Errorf("got %d results with topK=1", len(one))
	}

	if err := store.StoreEmbedding(ctx, uuid.New(), unitVector(0)); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("embedding unknown chunk: error = %v, want ErrNotFound", err)
	}
}

func TestStoreListDocuments(t *testing.T) {
	store, ctx := setupStore(t)

	a, _ := store.CreateDocument(ctx, "A", "tekst a", "https://example.com/a")
	if _, err := store.CreateDocument(ctx, "B", "tekst b", "https://example.com/b"); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := store.ReplaceChunks(ctx, a.ID, []string{"x", "y"}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	docs, err := store.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	counts := map[string]int{}
	for _, d := range docs {
		counts[d.SourceURL] = d.ChunkCount
	}
	if counts["https://example.com/a"] != 2 || counts["https://example.com/b"] != 0 {
		t.Errorf("chunk counts = %v", counts)
	}
}

func TestStoreDeleteCascadesChunks(t *testing.T) {
	store, ctx := setupStore(t)

	doc, _ := store.CreateDocument(ctx, "Weg", "tekst weg", "https://example.com/weg")
	if _, err := store.ReplaceChunks(ctx, doc.ID, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	count, err := store.CountChunks(ctx)
	if err != nil {
		t.Fatalf("CountChunks: %v", err)
	}
	if count != 0 {
		t.Errorf("chunks remaining after document delete: %d", count)
	}
}
