package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/illthorn/internal/game"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gameServer accepts one connection on a loopback listener.
func gameServer(t *testing.T) (Config, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(conns)
			return
		}
		conns <- conn
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Config{Name: "Warrior", Host: "127.0.0.1", Port: addr.Port}, conns
}

func accept(t *testing.T, conns <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case conn, ok := <-conns:
		if !ok {
			t.Fatal("accept failed")
		}
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
	}
	return nil
}

func startSession(t *testing.T, opts Options, recorder Recorder) (*Session, net.Conn) {
	t.Helper()
	cfg, conns := gameServer(t)
	conn, err := Dial(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sess := New(conn, cfg, opts, recorder, testLogger())
	t.Cleanup(func() { _ = sess.Disconnect() })
	return sess, accept(t, conns)
}

// collect reads events until the accumulated clean text contains want.
func collect(t *testing.T, sub *Subscription, want string) ([]Event, string) {
	t.Helper()
	var (
		events []Event
		text   strings.Builder
	)
	timeout := time.After(2 * time.Second)
	for !strings.Contains(text.String(), want) {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed before %q arrived; got %q", want, text.String())
			}
			events = append(events, ev)
			text.WriteString(ev.CleanText)
		case <-timeout:
			t.Fatalf("timed out waiting for %q; got %q", want, text.String())
		}
	}
	return events, text.String()
}

func TestSessionParsesAndPublishes(t *testing.T) {
	sess, server := startSession(t, Options{}, nil)
	sub := sess.Subscribe()

	if _, err := io.WriteString(server, "<progressBar id='health' value='75' text='health 75/100'/>You see a door.\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	events, text := collect(t, sub, "You see a door.")
	if !strings.Contains(text, "You see a door.") {
		t.Fatalf("clean text = %q", text)
	}
	var sawVitals bool
	for _, ev := range events {
		if ev.Type != EventData || ev.Session != "Warrior" {
			t.Fatalf("unexpected event %+v", ev)
		}
		for _, u := range ev.Updates {
			if u == game.UpdateVitals {
				sawVitals = true
			}
		}
	}
	if !sawVitals {
		t.Fatal("expected a vitals update")
	}

	snap := sess.Snapshot()
	if got := snap.Game.Vitals["health"]; got.Current != 75 || got.Max != 100 {
		t.Fatalf("health = %+v", got)
	}
	if !strings.Contains(snap.Feed, "You see a door.") {
		t.Fatalf("feed = %q", snap.Feed)
	}
	if snap.Chunks == 0 {
		t.Fatal("expected chunk count in snapshot")
	}
}

func TestSessionKeepsSplitCharacterWhole(t *testing.T) {
	sess, server := startSession(t, Options{ReadBufferSize: 16}, nil)
	sub := sess.Subscribe()

	msg := []byte("Él dice: «hola»")
	// Split inside the two-byte "É".
	if _, err := server.Write(msg[:1]); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := server.Write(msg[1:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, text := collect(t, sub, "«hola»")
	if text != "Él dice: «hola»" {
		t.Fatalf("clean text = %q", text)
	}
}

func TestSessionSendAppendsLineTerminator(t *testing.T) {
	sess, server := startSession(t, Options{QueueCapacity: 4}, nil)

	if err := sess.Send(context.Background(), "look"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sess.SendRaw(context.Background(), []byte("<c>go north\n")); err != nil {
		t.Fatalf("send raw: %v", err)
	}

	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(server)
	first, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if first != "look\r\n" {
		t.Fatalf("first line = %q", first)
	}
	second, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if second != "<c>go north\n" {
		t.Fatalf("second line = %q", second)
	}
}

func TestSessionQueueFull(t *testing.T) {
	cfg, conns := gameServer(t)
	client, err := Dial(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	accept(t, conns)

	// A connection whose writes block keeps the queue from draining.
	blocked := &blockingConn{Conn: client, release: make(chan struct{})}
	sess := New(blocked, cfg, Options{QueueCapacity: 1, EnqueueTimeout: 20 * time.Millisecond}, nil, testLogger())
	t.Cleanup(func() {
		close(blocked.release)
		_ = sess.Disconnect()
	})

	ctx := context.Background()
	var full error
	for i := 0; i < 5 && full == nil; i++ {
		full = sess.Send(ctx, "look")
	}
	if !errors.Is(full, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", full)
	}
}

type blockingConn struct {
	net.Conn
	release chan struct{}
}

func (c *blockingConn) Write(p []byte) (int, error) {
	<-c.release
	return c.Conn.Write(p)
}

func TestSessionDisconnectClosesSubscribers(t *testing.T) {
	sess, server := startSession(t, Options{Linger: 100 * time.Millisecond}, nil)
	sub := sess.Subscribe()

	go func() { _, _ = io.Copy(io.Discard, server); _ = server.Close() }()
	if err := sess.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	var last Event
	for ev := range sub.C {
		last = ev
	}
	if last.Type != EventClosed {
		t.Fatalf("last event = %+v, want %s", last, EventClosed)
	}
	if err := sess.Send(context.Background(), "look"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("send after disconnect: %v", err)
	}
	if _, ok := <-sess.Subscribe().C; ok {
		t.Fatal("subscription on closed session should be closed")
	}
	if err := sess.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestSessionDisconnectWithStalledPeer(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { _ = server.Close() })

	sess := New(client, Config{Name: "stalled"}, Options{Linger: 50 * time.Millisecond}, nil, testLogger())
	if err := sess.Send(context.Background(), "look"); err != nil {
		t.Fatalf("send: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = sess.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect blocked on a peer that never reads")
	}
}

func TestSessionPeerCloseFlushesParser(t *testing.T) {
	sess, server := startSession(t, Options{}, nil)
	sub := sess.Subscribe()

	if _, err := io.WriteString(server, "Goodbye <unfinished"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = server.Close()

	var text strings.Builder
	for ev := range sub.C {
		text.WriteString(ev.CleanText)
	}
	if got := text.String(); !strings.Contains(got, "Goodbye") || !strings.Contains(got, "&lt;unfinished") {
		t.Fatalf("clean text = %q", got)
	}
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}
