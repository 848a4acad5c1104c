// Package knowledge persists documents, chunks and their embeddings in
// PostgreSQL and answers vector similarity queries with pgvector.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/stelwijs/stelwijs/internal/log"
)

// ErrNotFound is returned when a document or chunk does not exist.
var ErrNotFound = errors.New("not found")

// snippetMaxRunes bounds result snippets so API responses stay small.
const snippetMaxRunes = 160

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages the knowledge schema (documents + chunks with embeddings).
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store over an existing connection pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, logger: logger}, nil
}

// CreateDocument inserts a document with its full normalized text and
// returns the stored row. The text is the source of truth for reprocessing.
// The source URL may be empty for documents that were not fetched from the
// web; when present it must be unique.
func (s *Store) CreateDocument(ctx context.Context, title, content, sourceURL string) (*Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (title, content, source_url)
		 VALUES ($1, $2, $3)
		 RETURNING id, title, content, source_url, created_at, updated_at`,
		title, content, sourceURL,
	).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.SourceURL, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	return &doc, nil
}

// Document returns the document with the given id, or ErrNotFound.
func (s *Store) Document(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanDocument(s.pool.QueryRow(ctx,
		`SELECT id, title, content, source_url, created_at, updated_at
		 FROM documents WHERE id = $1`, id))
}

// DocumentBySourceURL returns the document ingested from sourceURL, or
// ErrNotFound. The ingestion pipeline uses this for idempotency checks.
func (s *Store) DocumentBySourceURL(ctx context.Context, sourceURL string) (*Document, error) {
	// Sourceless documents are not unique on the empty string; never match one.
	if sourceURL == "" {
		return nil, ErrNotFound
	}
	return scanDocument(s.pool.QueryRow(ctx,
		`SELECT id, title, content, source_url, created_at, updated_at
		 FROM documents WHERE source_url = $1`, sourceURL))
}

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.SourceURL, &doc.CreatedAt, &doc.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &doc, nil
}

// ReplaceChunks atomically swaps a document's chunks for the given contents,
// in order. Old chunks (and their embeddings) are deleted in the same
// transaction, so a reprocess never leaves a mixed state. The returned chunks
// carry their new ids for embedding storage.
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, contents []string) ([]Chunk, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET updated_at = now() WHERE id = $1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("touching document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("deleting old chunks: %w", err)
	}

	chunks := make([]Chunk, 0, len(contents))
	for i, content := range contents {
		var id uuid.UUID
		err := tx.QueryRow(ctx,
			`INSERT INTO chunks (document_id, chunk_index, content)
			 VALUES ($1, $2, $3)
			 RETURNING id`,
			documentID, i, content,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("inserting chunk %d: %w", i, err)
		}
		chunks = append(chunks, Chunk{ID: id, DocumentID: documentID, Index: i, Content: content})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing chunk replacement: %w", err)
	}

	s.logger.Debug("replaced chunks", "document_id", documentID, "count", len(chunks))
	return chunks, nil
}

// StoreEmbedding attaches a vector to an existing chunk.
func (s *Store) StoreEmbedding(ctx context.Context, chunkID uuid.UUID, vector []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chunks SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(vector), chunkID)
	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Search returns the topK chunks closest to the query vector by cosine
// similarity, best match first. Chunks without an embedding are invisible to
// search. Ties are broken by chunk id so results are stable across calls.
// topK <= 0 returns no results.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]SimilarityResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	vec := pgvector.NewVector(vector)
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.document_id, d.title, d.source_url, c.chunk_index, c.content,
		        1 - (c.embedding <=> $1) AS similarity
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE c.embedding IS NOT NULL
		 ORDER BY c.embedding <=> $1, c.id
		 LIMIT $2`,
		vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var results []SimilarityResult
	for rows.Next() {
		var r SimilarityResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.DocumentTitle, &r.SourceURL,
			&r.ChunkIndex, &r.Content, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		r.Snippet = makeSnippet(r.Content)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}

// ListDocuments returns all documents with their chunk counts, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.id, d.title, d.source_url, d.created_at, d.updated_at,
		        count(c.id) AS chunk_count
		 FROM documents d
		 LEFT JOIN chunks c ON c.document_id = d.id
		 GROUP BY d.id
		 ORDER BY d.created_at DESC, d.id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentInfo
	for rows.Next() {
		var info DocumentInfo
		if err := rows.Scan(&info.ID, &info.Title, &info.SourceURL,
			&info.CreatedAt, &info.UpdatedAt, &info.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document and, via cascade, all of its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Info("deleted document", "document_id", id)
	return nil
}

// CountChunks returns the total number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

// makeSnippet trims content to snippetMaxRunes, cutting at a word boundary
// when one is near and appending an ellipsis.
func makeSnippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= snippetMaxRunes {
		return content
	}

	// Reserve one rune for the ellipsis so the result stays within the bound.
	cut := string([]rune(content)[:snippetMaxRunes-1])
	if idx := strings.LastIndexByte(cut, ' '); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
