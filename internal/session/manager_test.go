package session

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestManagerConnectListDisconnect(t *testing.T) {
	m := NewManager(Options{Linger: 50 * time.Millisecond}, nil, testLogger())
	t.Cleanup(m.CloseAll)

	ctx := context.Background()
	cfgB, connsB := gameServer(t)
	cfgB.Name = "Wizard"
	cfgA, connsA := gameServer(t)

	if _, err := m.Connect(ctx, cfgB); err != nil {
		t.Fatalf("connect %s: %v", cfgB.Name, err)
	}
	if _, err := m.Connect(ctx, cfgA); err != nil {
		t.Fatalf("connect %s: %v", cfgA.Name, err)
	}
	serverA := accept(t, connsA)
	accept(t, connsB)

	if _, err := m.Connect(ctx, cfgA); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	infos := m.List()
	if len(infos) != 2 || infos[0].Name != "Warrior" || infos[1].Name != "Wizard" {
		t.Fatalf("unexpected list: %+v", infos)
	}

	go func() { _, _ = io.Copy(io.Discard, serverA); _ = serverA.Close() }()
	if err := m.Disconnect("Warrior"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := m.Get("Warrior"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := m.Disconnect("Nobody"); err != nil {
		t.Fatalf("disconnect unknown: %v", err)
	}
	if err := m.Send(ctx, "Nobody", "look"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("send unknown: %v", err)
	}
}

func TestManagerForgetsClosedSession(t *testing.T) {
	m := NewManager(Options{}, nil, testLogger())
	t.Cleanup(m.CloseAll)

	cfg, conns := gameServer(t)
	sess, err := m.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = accept(t, conns).Close()

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after peer close")
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(m.List()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("closed session still listed: %+v", m.List())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerDialError(t *testing.T) {
	dialErr := errors.New("refused")
	m := NewManager(Options{}, nil, testLogger()).WithDialer(func(context.Context, Config, Options) (net.Conn, error) {
		return nil, dialErr
	})

	if _, err := m.Connect(context.Background(), Config{Name: "Warrior", Host: "127.0.0.1", Port: 1}); !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if len(m.List()) != 0 {
		t.Fatal("failed connect must not register a session")
	}
	if _, err := m.Connect(context.Background(), Config{Host: "127.0.0.1", Port: 1}); err == nil {
		t.Fatal("expected error for missing name")
	}
}
