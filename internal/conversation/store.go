// Package conversation persists chat history and orchestrates grounded,
// streaming answers over it.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/retrieval"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is one chat thread.
type Conversation struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one message in a conversation. Citations is only set on assistant
// turns that were grounded.
type Turn struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Sequence       int
	Role           string
	Content        string
	Citations      []retrieval.Citation
	CreatedAt      time.Time
}

// Store manages conversation persistence.
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

// Create starts a new conversation with an empty title.
func (s *Store) Create(ctx context.Context) (*Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations DEFAULT VALUES
		 RETURNING id, title, created_at, updated_at`,
	).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return &conv, nil
}

// Get returns a conversation by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, created_at, updated_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &conv, nil
}

// AppendTurn adds a turn with the next sequence number. The conversation row
// is locked for the duration of the transaction so concurrent appends cannot
// race on the sequence.
func (s *Store) AppendTurn(ctx context.Context, conversationID uuid.UUID, role, content string, citations []retrieval.Citation) (*Turn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lockedID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID,
	).Scan(&lockedID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("locking conversation: %w", err)
	}

	var nextSeq int
	if err := tx.QueryRow(ctx,
		`SELECT coalesce(max(sequence), -1) + 1
		 FROM conversation_turns WHERE conversation_id = $1`, conversationID,
	).Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("computing sequence number: %w", err)
	}

	var citationsJSON []byte
	if len(citations) > 0 {
		citationsJSON, err = json.Marshal(citations)
		if err != nil {
			return nil, fmt.Errorf("marshaling citations: %w", err)
		}
	}

	turn := &Turn{
		ConversationID: conversationID,
		Sequence:       nextSeq,
		Role:           role,
		Content:        content,
		Citations:      citations,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO conversation_turns (conversation_id, sequence, role, content, citations)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		conversationID, nextSeq, role, content, citationsJSON,
	).Scan(&turn.ID, &turn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting turn: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing turn: %w", err)
	}
	return turn, nil
}

// Turns returns all turns of a conversation in sequence order.
func (s *Store) Turns(ctx context.Context, conversationID uuid.UUID) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sequence, role, content, citations, created_at
		 FROM conversation_turns
		 WHERE conversation_id = $1
		 ORDER BY sequence`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var citationsJSON []byte
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Sequence, &t.Role,
			&t.Content, &citationsJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if len(citationsJSON) > 0 {
			if err := json.Unmarshal(citationsJSON, &t.Citations); err != nil {
				return nil, fmt.Errorf("unmarshaling citations: %w", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

// SetTitle updates the conversation title.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $1, updated_at = now() WHERE id = $2`, title, id)
	if err != nil {
		return fmt.Errorf("updating title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all conversations, most recently active first.
func (s *Store) List(ctx context.Context) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// Delete removes a conversation and, via cascade, its turns.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
