package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/illthorn/internal/storage"
)

func openTestDB(t *testing.T) *SessionStore {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "illthorn.db")
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSessionStore(db)
}

func TestSessionStoreUpsertKeepsID(t *testing.T) {
	ctx := context.Background()
	sessions := openTestDB(t)

	first, err := sessions.Upsert(ctx, "Warrior", "127.0.0.1", 8000)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := sessions.Upsert(ctx, "Warrior", "10.0.0.2", 8001)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected stable id, got %s vs %s", first.ID, second.ID)
	}
	if second.Host != "10.0.0.2" || second.Port != 8001 {
		t.Fatalf("expected updated address, got %s:%d", second.Host, second.Port)
	}
	if second.Status != SessionStatusDisconnected {
		t.Fatalf("status = %s, want %s", second.Status, SessionStatusDisconnected)
	}
}

func TestSessionStoreUpdateStatus(t *testing.T) {
	ctx := context.Background()
	sessions := openTestDB(t)

	sess, err := sessions.Upsert(ctx, "Mage", "127.0.0.1", 8000)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := sessions.UpdateStatus(ctx, sess.ID, SessionStatusConnected, nil); err != nil {
		t.Fatalf("mark connected: %v", err)
	}
	errMsg := "connection reset"
	if err := sessions.UpdateStatus(ctx, sess.ID, SessionStatusFailed, &errMsg); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := sessions.GetByName(ctx, "Mage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != SessionStatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, SessionStatusFailed)
	}
	if got.Error == nil || *got.Error != errMsg {
		t.Fatalf("error = %v, want %q", got.Error, errMsg)
	}
	if got.ConnectedAt == nil || got.DisconnectedAt == nil {
		t.Fatalf("expected both timestamps, got %+v", got)
	}

	list, err := sessions.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Mage" {
		t.Fatalf("unexpected list: %+v", list)
	}
}
