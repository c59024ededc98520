package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the connection state of a session.
type SessionStatus string

const (
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusFailed       SessionStatus = "failed"
)

// Session is the persisted record of a named game connection.
type Session struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	Status         SessionStatus `json:"status"`
	Error          *string       `json:"error,omitempty"`
	ConnectedAt    *time.Time    `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time    `json:"disconnected_at,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

// SessionStore provides operations on the sessions table.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// DB returns the underlying database connection.
func (s *SessionStore) DB() *sql.DB {
	return s.db
}

// Upsert records a session by name. An existing row keeps its ID and history
// and takes the new host and port.
func (s *SessionStore) Upsert(ctx context.Context, name, host string, port int) (*Session, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, host, port, status, updated_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET host = excluded.host, port = excluded.port, updated_at = excluded.updated_at`,
		uuid.New().String(), name, host, port, string(SessionStatusDisconnected), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}
	return s.GetByName(ctx, name)
}

// GetByName retrieves a session by its name.
func (s *SessionStore) GetByName(ctx context.Context, name string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, host, port, status, error, connected_at, disconnected_at, updated_at, created_at
		 FROM sessions WHERE name = ?`, name)
	return scanSession(row)
}

// List returns all known sessions ordered by name.
func (s *SessionStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, host, port, status, error, connected_at, disconnected_at, updated_at, created_at
		 FROM sessions ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateStatus records a connection state change.
func (s *SessionStore) UpdateStatus(ctx context.Context, id string, status SessionStatus, errMsg *string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var connectedAt, disconnectedAt *string
	switch status {
	case SessionStatusConnected:
		connectedAt = &now
	case SessionStatusDisconnected, SessionStatusFailed:
		disconnectedAt = &now
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, error = ?,
		 connected_at = COALESCE(?, connected_at), disconnected_at = COALESCE(?, disconnected_at), updated_at = ?
		 WHERE id = ?`,
		string(status), errMsg, connectedAt, disconnectedAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*Session, error) {
	var sess Session
	var status string
	var errMsg sql.NullString
	var connectedAt, disconnectedAt, updatedAt, createdAt *string

	err := s.Scan(&sess.ID, &sess.Name, &sess.Host, &sess.Port, &status, &errMsg,
		&connectedAt, &disconnectedAt, &updatedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if errMsg.Valid {
		v := errMsg.String
		sess.Error = &v
	}
	sess.Status = SessionStatus(status)
	sess.ConnectedAt = parseTime(connectedAt)
	sess.DisconnectedAt = parseTime(disconnectedAt)
	if t := parseTime(updatedAt); t != nil {
		sess.UpdatedAt = *t
	}
	if t := parseTime(createdAt); t != nil {
		sess.CreatedAt = *t
	}
	return &sess, nil
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
