// Package session owns live game connections and the parser of each.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/illthorn/internal/game"
	"github.com/mattjoyce/illthorn/internal/parser"
)

var (
	// ErrQueueFull is returned when a command cannot be queued within the enqueue timeout.
	ErrQueueFull = errors.New("session command queue is full")
	// ErrSessionClosed is returned for writes to a session that is shutting down.
	ErrSessionClosed = errors.New("session is closed")
)

const maxFeedChunks = 800

// Config identifies a game connection.
type Config struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the host:port to dial.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options tune connection handling.
type Options struct {
	DialTimeout     time.Duration
	Linger          time.Duration
	ReadBufferSize  int
	QueueCapacity   int
	EnqueueTimeout  time.Duration
	EventBuffer     int
	MaxPendingBytes int
}

// Info summarizes a live session.
type Info struct {
	Config
	ConnectedAt time.Time    `json:"connected_at"`
	Chunks      int          `json:"chunks"`
	Pending     int          `json:"pending_bytes"`
	Parser      parser.State `json:"parser"`
}

// Snapshot is a consistent copy of a session's state.
type Snapshot struct {
	Info
	Game *game.State `json:"game"`
	Feed string      `json:"feed"`
}

// Session is one live connection. It owns the connection's parser: chunks
// are parsed only by the session's read loop, one at a time and in arrival
// order.
type Session struct {
	cfg      Config
	opts     Options
	conn     net.Conn
	recorder Recorder
	recordID string
	logger   *slog.Logger

	parser *parser.Parser
	hub    *hub

	mu          sync.Mutex
	game        *game.State
	feed        []string
	seq         int
	connectedAt time.Time

	queue      chan []byte
	closing    chan struct{}
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// Dial opens the TCP connection for cfg with low-latency socket options.
func Dial(ctx context.Context, cfg Config, opts Options) (net.Conn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr(), err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set nodelay: %w", err)
		}
		// SO_LINGER takes whole seconds.
		if opts.Linger > 0 {
			secs := int((opts.Linger + time.Second - 1) / time.Second)
			if err := tcp.SetLinger(secs); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("set linger: %w", err)
			}
		}
	}
	return conn, nil
}

// New wraps an established connection and starts its read and write loops.
// recorder may be nil.
func New(conn net.Conn, cfg Config, opts Options, recorder Recorder, logger *slog.Logger) *Session {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 1024
	}
	if opts.QueueCapacity < 0 {
		opts.QueueCapacity = 0
	}
	s := &Session{
		cfg:         cfg,
		opts:        opts,
		conn:        conn,
		recorder:    recorder,
		logger:      logger.With("session", cfg.Name),
		parser:      parser.New(parser.WithMaxPending(opts.MaxPendingBytes)),
		hub:         newHub(opts.EventBuffer),
		game:        game.NewState(),
		connectedAt: time.Now().UTC(),
		queue:       make(chan []byte, opts.QueueCapacity),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
	}

	if recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		id, err := recorder.Opened(ctx, cfg)
		cancel()
		if err != nil {
			s.logger.Warn("failed to record session open", "error", err)
		}
		s.recordID = id
	}

	go s.readLoop()
	go s.writeLoop()
	return s
}

// Name returns the session name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// Done is closed when the read loop has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Subscribe returns a subscription to the session's events. On a closed
// session the subscription's channel is already closed.
func (s *Session) Subscribe() *Subscription {
	return s.hub.subscribe()
}

// Unsubscribe ends sub.
func (s *Session) Unsubscribe(sub *Subscription) {
	s.hub.unsubscribe(sub)
}

// Send queues a command line; the line terminator is appended.
func (s *Session) Send(ctx context.Context, command string) error {
	return s.enqueue(ctx, []byte(command+"\r\n"))
}

// SendRaw queues bytes exactly as given.
func (s *Session) SendRaw(ctx context.Context, data []byte) error {
	return s.enqueue(ctx, append([]byte(nil), data...))
}

func (s *Session) enqueue(ctx context.Context, data []byte) error {
	select {
	case <-s.closing:
		return ErrSessionClosed
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	timeout := s.opts.EnqueueTimeout
	if timeout <= 0 {
		select {
		case s.queue <- data:
			return nil
		default:
			return ErrQueueFull
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.queue <- data:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-s.closing:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect flushes queued commands, shuts down the write half and waits
// for the read loop to end. Writes still pending after the linger grace are
// abandoned. It is safe to call more than once.
func (s *Session) Disconnect() error {
	s.closeOnce.Do(func() {
		grace := s.opts.Linger
		if grace <= 0 {
			grace = time.Second
		}

		close(s.closing)
		// A peer that stops reading must not stall the drain.
		_ = s.conn.SetWriteDeadline(time.Now().Add(grace))
		<-s.writerDone
		if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}

		select {
		case <-s.done:
		case <-time.After(grace):
		}
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
		<-s.done
	})
	return s.closeErr
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	return Info{
		Config:      s.cfg,
		ConnectedAt: s.connectedAt,
		Chunks:      s.seq,
		Pending:     s.parser.Pending(),
		Parser:      s.parser.State(),
	}
}

// Snapshot returns a copy of the session state and recent clean text.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Info: s.infoLocked(),
		Game: s.game.Clone(),
		Feed: strings.Join(s.feed, ""),
	}
}

func (s *Session) readLoop() {
	defer close(s.done)

	buf := make([]byte, s.opts.ReadBufferSize)
	var text utf8Buffer
	var readErr error
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if chunk := text.Write(buf[:n]); chunk != "" {
				s.process(chunk, false)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				readErr = err
				s.logger.Error("read failed", "error", err)
			}
			break
		}
	}

	if tail := text.Flush(); tail != "" {
		s.process(tail, false)
	}
	s.process("", true)

	s.logger.Info("session closed", "chunks", s.Info().Chunks)
	final := Event{Type: EventClosed, Session: s.cfg.Name, Time: time.Now().UTC()}
	if readErr != nil {
		final.Error = readErr.Error()
	}
	if s.recorder != nil && s.recordID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.recorder.Closed(ctx, s.recordID, readErr); err != nil {
			s.logger.Warn("failed to record session close", "error", err)
		}
		cancel()
	}
	s.hub.close(final)
}

// process parses raw and folds the result into the session state under one
// lock, so snapshots never observe a half-applied chunk. With flush set, the
// parser's buffered remainder is emitted instead.
func (s *Session) process(raw string, flush bool) {
	s.mu.Lock()
	var res parser.Result
	if flush {
		res = s.parser.Flush()
		if len(res.Tags) == 0 && res.CleanText == "" {
			s.mu.Unlock()
			return
		}
	} else {
		var err error
		res, err = s.parser.Parse(raw)
		if err != nil {
			s.logger.Warn("protocol error", "error", err)
		}
	}
	updates := s.game.Apply(res.Tags)
	if res.CleanText != "" {
		s.feed = append(s.feed, res.CleanText)
		if len(s.feed) > maxFeedChunks {
			s.feed = s.feed[len(s.feed)-maxFeedChunks:]
		}
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if s.recorder != nil && s.recordID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.recorder.Chunk(ctx, s.recordID, seq, raw, res); err != nil {
			s.logger.Warn("failed to record chunk", "seq", seq, "error", err)
		}
		cancel()
	}

	ev := Event{
		Type:      EventData,
		Session:   s.cfg.Name,
		Seq:       seq,
		CleanText: res.CleanText,
		Tags:      res.Tags,
		Updates:   updates,
		Time:      time.Now().UTC(),
	}
	if dropped := s.hub.publish(ev); dropped > 0 {
		s.logger.Debug("subscribers lagging, events dropped", "seq", seq, "dropped", dropped)
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case data := <-s.queue:
			s.write(data)
		case <-s.done:
			return
		case <-s.closing:
			for {
				select {
				case data := <-s.queue:
					s.write(data)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) write(data []byte) {
	if _, err := s.conn.Write(data); err != nil {
		s.logger.Error("write failed", "bytes", len(data), "error", err)
	}
}
