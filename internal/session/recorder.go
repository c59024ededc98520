package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/illthorn/internal/parser"
	"github.com/mattjoyce/illthorn/internal/store"
)

// Recorder persists the lifecycle and transcript of sessions.
type Recorder interface {
	// Opened records a new connection and returns its record id.
	Opened(ctx context.Context, cfg Config) (string, error)
	// Chunk records one parsed chunk.
	Chunk(ctx context.Context, id string, seq int, raw string, res parser.Result) error
	// Closed records the end of a connection; cause is nil for a clean close.
	Closed(ctx context.Context, id string, cause error) error
}

// StoreRecorder is a Recorder backed by the SQLite stores.
type StoreRecorder struct {
	sessions   *store.SessionStore
	chunks     *store.ChunkStore
	transcript bool
}

// NewStoreRecorder creates a StoreRecorder. Without transcript only the
// session lifecycle is stored.
func NewStoreRecorder(sessions *store.SessionStore, chunks *store.ChunkStore, transcript bool) *StoreRecorder {
	return &StoreRecorder{sessions: sessions, chunks: chunks, transcript: transcript}
}

// Opened upserts the session row and marks it connected.
func (r *StoreRecorder) Opened(ctx context.Context, cfg Config) (string, error) {
	sess, err := r.sessions.Upsert(ctx, cfg.Name, cfg.Host, cfg.Port)
	if err != nil {
		return "", err
	}
	if err := r.sessions.UpdateStatus(ctx, sess.ID, store.SessionStatusConnected, nil); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Chunk appends the chunk to the transcript when transcripts are enabled.
func (r *StoreRecorder) Chunk(ctx context.Context, id string, seq int, raw string, res parser.Result) error {
	if !r.transcript {
		return nil
	}
	_, err := r.chunks.Append(ctx, id, seq, raw, res.CleanText, len(res.Tags))
	return err
}

// Closed marks the session disconnected, or failed when cause is set.
func (r *StoreRecorder) Closed(ctx context.Context, id string, cause error) error {
	if cause != nil {
		msg := cause.Error()
		return r.sessions.UpdateStatus(ctx, id, store.SessionStatusFailed, &msg)
	}
	return r.sessions.UpdateStatus(ctx, id, store.SessionStatusDisconnected, nil)
}

// ErrNoTranscript is returned when a session has never been recorded.
var ErrNoTranscript = errors.New("no transcript for session")

// WriteDebugLog renders the stored transcript of the named session into a
// file under dir and returns the file path.
func (r *StoreRecorder) WriteDebugLog(ctx context.Context, name, dir string) (string, error) {
	sess, err := r.sessions.GetByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoTranscript, name)
	}
	chunks, err := r.chunks.ListBySession(ctx, sess.ID, 0)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# illthorn debug log\nsession: %s (%s)\nhost: %s:%d\nstatus: %s\ngenerated: %s\nchunks: %d\n\n",
		sess.Name, sess.ID, sess.Host, sess.Port, sess.Status, time.Now().UTC().Format(time.RFC3339), len(chunks))
	for _, c := range chunks {
		fmt.Fprintf(&b, "## %d %s tags=%d\n--- raw\n%s\n--- clean\n%s\n\n",
			c.Seq, c.CreatedAt.Format(time.RFC3339Nano), c.TagCount, c.Raw, c.CleanText)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create debug log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("illthorn-debug-%s-%s.log", safeFileName(name), time.Now().UTC().Format("20060102T150405")))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write debug log: %w", err)
	}
	return path, nil
}

func safeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
