// Package mockserver is a development stand-in for the game server. It logs
// every byte a client sends, as text and as a hex dump, and can replay a
// scripted markup file to each client.
package mockserver

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds mock server settings.
type Config struct {
	Listen         string
	ReplayFile     string
	ReplayInterval time.Duration
}

// Server accepts game client connections.
type Server struct {
	config Config
	script []string
	logger *slog.Logger
	ln     net.Listener
}

// New creates a Server and loads its replay script, if any.
func New(config Config, logger *slog.Logger) (*Server, error) {
	s := &Server{config: config, logger: logger}
	if config.ReplayFile != "" {
		script, err := LoadScript(config.ReplayFile)
		if err != nil {
			return nil, err
		}
		s.script = script
	}
	return s, nil
}

// LoadScript reads a replay file. Each line is sent as one write, with its
// line terminator normalized to \r\n.
func LoadScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r")+"\r\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	return lines, nil
}

// Listen binds the configured address.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	s.ln = ln
	s.logger.Info("mock server listening", "addr", ln.Addr().String(), "script_lines", len(s.script))
	return nil
}

// Addr returns the bound address. Listen must have been called.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is done and waits for every client
// handler to return.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()

	g.Go(func() error {
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			g.Go(func() error {
				s.handle(ctx, conn)
				return nil
			})
		}
	})
	return g.Wait()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Info("client connected")
	defer logger.Info("client disconnected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				logger.Info("received data", "text", string(buf[:n]), "hex", hex.EncodeToString(buf[:n]))
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					return err
				}
				return nil
			}
		}
	})
	if len(s.script) > 0 {
		g.Go(func() error { return s.replay(ctx, conn) })
	}
	if err := g.Wait(); err != nil {
		logger.Warn("client error", "error", err)
	}
}

// replay writes the script once, pausing between lines.
func (s *Server) replay(ctx context.Context, conn net.Conn) error {
	for i, line := range s.script {
		if i > 0 && s.config.ReplayInterval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.config.ReplayInterval):
			}
		}
		if _, err := io.WriteString(conn, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("replay line %d: %w", i+1, err)
		}
	}
	return nil
}
