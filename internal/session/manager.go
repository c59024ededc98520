package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
)

var (
	// ErrSessionExists is returned when connecting a name that is already live.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

// DialFunc opens the connection for a session.
type DialFunc func(ctx context.Context, cfg Config, opts Options) (net.Conn, error)

// Manager owns the live sessions, keyed by name. Each session has its own
// parser; nothing parser-related is shared between sessions.
type Manager struct {
	opts     Options
	recorder Recorder
	dial     DialFunc
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager. recorder may be nil.
func NewManager(opts Options, recorder Recorder, logger *slog.Logger) *Manager {
	return &Manager{
		opts:     opts,
		recorder: recorder,
		dial:     Dial,
		logger:   logger,
		sessions: map[string]*Session{},
	}
}

// WithDialer replaces the function used to open connections.
func (m *Manager) WithDialer(dial DialFunc) *Manager {
	m.dial = dial
	return m
}

// Connect dials cfg and registers the session under cfg.Name.
func (m *Manager) Connect(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("session name is required")
	}

	m.mu.Lock()
	_, exists := m.sessions[cfg.Name]
	m.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, cfg.Name)
	}

	// Dial without holding the lock.
	conn, err := m.dial(ctx, cfg, m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.sessions[cfg.Name]; exists {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, cfg.Name)
	}
	sess := New(conn, cfg, m.opts, m.recorder, m.logger)
	m.sessions[cfg.Name] = sess
	m.mu.Unlock()

	m.logger.Info("session connected", "session", cfg.Name, "addr", cfg.Addr())

	go func() {
		<-sess.Done()
		m.forget(cfg.Name, sess)
	}()
	return sess, nil
}

// forget removes sess if it is still the one registered under name.
func (m *Manager) forget(name string, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[name] == sess {
		delete(m.sessions, name)
	}
}

// Get returns the live session called name.
func (m *Manager) Get(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	return sess, nil
}

// Send queues a command line on the named session.
func (m *Manager) Send(ctx context.Context, name, command string) error {
	sess, err := m.Get(name)
	if err != nil {
		return err
	}
	return sess.Send(ctx, command)
}

// SendRaw queues raw bytes on the named session.
func (m *Manager) SendRaw(ctx context.Context, name string, data []byte) error {
	sess, err := m.Get(name)
	if err != nil {
		return err
	}
	return sess.SendRaw(ctx, data)
}

// Disconnect closes the named session. Unknown names are not an error.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	delete(m.sessions, name)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	m.logger.Info("disconnecting session", "session", name)
	return sess.Disconnect()
}

// List returns live sessions sorted by name.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// CloseAll disconnects every session concurrently and waits for them.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for name, sess := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sess.Disconnect(); err != nil {
				m.logger.Warn("disconnect failed", "session", name, "error", err)
			}
		}()
	}
	wg.Wait()
}
