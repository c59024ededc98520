package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Chunk is one received network fragment and what the parser made of it.
type Chunk struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Raw       string    `json:"raw"`
	CleanText string    `json:"clean_text"`
	TagCount  int       `json:"tag_count"`
	CreatedAt time.Time `json:"created_at"`
}

// ChunkStore provides operations on the chunks table.
type ChunkStore struct {
	db *sql.DB
}

// NewChunkStore creates a new ChunkStore.
func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// Append inserts the next chunk of a session's transcript.
func (s *ChunkStore) Append(ctx context.Context, sessionID string, seq int, raw, cleanText string, tagCount int) (*Chunk, error) {
	now := time.Now().UTC()
	chunk := &Chunk{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Seq:       seq,
		Raw:       raw,
		CleanText: cleanText,
		TagCount:  tagCount,
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (id, session_id, seq, raw, clean_text, tag_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.SessionID, chunk.Seq, chunk.Raw, chunk.CleanText, chunk.TagCount,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert chunk: %w", err)
	}
	return chunk, nil
}

// ListBySession returns a session's chunks in receive order. A positive limit
// keeps only the most recent chunks.
func (s *ChunkStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*Chunk, error) {
	query := `SELECT id, session_id, seq, raw, clean_text, tag_count, created_at
		 FROM chunks WHERE session_id = ? ORDER BY seq ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT id, session_id, seq, raw, clean_text, tag_count, created_at FROM (
			SELECT * FROM chunks WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		var createdAt *string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Seq, &c.Raw, &c.CleanText, &c.TagCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if t := parseTime(createdAt); t != nil {
			c.CreatedAt = *t
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// MaxSeq returns the highest seq recorded for a session, or 0 if none.
func (s *ChunkStore) MaxSeq(ctx context.Context, sessionID string) (int, error) {
	var maxSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM chunks WHERE session_id = ?`, sessionID).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("max chunk seq: %w", err)
	}
	if !maxSeq.Valid {
		return 0, nil
	}
	return int(maxSeq.Int64), nil
}
