package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Document is an ingested source page. The full normalized text is kept on
// the document so reprocessing can re-chunk without re-fetching the source.
type Document struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"-"`
	SourceURL string    `json:"source_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chunk is one bounded passage of a document, stored in reading order.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Index      int
	Content    string
}

// DocumentInfo is a Document plus its chunk count, for listings.
type DocumentInfo struct {
	Document
	ChunkCount int `json:"chunk_count"`
}

// SimilarityResult is one vector search hit, joined with its document so
// callers can cite the source without a second query.
type SimilarityResult struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	SourceURL     string    `json:"source_url"`
	ChunkIndex    int       `json:"chunk_index"`
	Content       string    `json:"-"`
	Snippet       string    `json:"snippet"`
	Similarity    float64   `json:"similarity"`
}
