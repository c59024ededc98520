package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/illthorn/internal/session"
)

// SessionManager connects, drives and disconnects game sessions.
type SessionManager interface {
	Connect(ctx context.Context, cfg session.Config) (*session.Session, error)
	Get(name string) (*session.Session, error)
	List() []session.Info
	Send(ctx context.Context, name, command string) error
	SendRaw(ctx context.Context, name string, data []byte) error
	Disconnect(name string) error
}

// Transcripts exports stored session transcripts.
type Transcripts interface {
	WriteDebugLog(ctx context.Context, name, dir string) (string, error)
}

// Config holds API server configuration.
type Config struct {
	Listen                  string
	Token                   string
	DefaultHost             string
	DiscoveryDir            string
	DebugLogDir             string
	StreamHeartbeatInterval time.Duration
}

// Server represents the HTTP API server.
type Server struct {
	config      Config
	sessions    SessionManager
	transcripts Transcripts
	logger      *slog.Logger
	server      *http.Server
	startedAt   time.Time
}

// New creates a new API server instance. transcripts may be nil when
// transcripts are not persisted.
func New(config Config, sessions SessionManager, transcripts Transcripts, logger *slog.Logger) *Server {
	return &Server{
		config:      config,
		sessions:    sessions,
		transcripts: transcripts,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE endpoints are long-lived streams.
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated
	r.Get("/healthz", s.handleHealthz)

	// Protected
	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/v1/sessions", s.handleConnect)
		r.Get("/v1/sessions", s.handleListSessions)
		r.Get("/v1/sessions/{name}", s.handleGetSession)
		r.Delete("/v1/sessions/{name}", s.handleDisconnect)
		r.Post("/v1/sessions/{name}/commands", s.handleCommand)
		r.Get("/v1/sessions/{name}/events", s.handleSessionEvents)
		r.Post("/v1/sessions/{name}/debug-log", s.handleDebugLog)
		r.Get("/v1/discovery", s.handleDiscovery)
		r.Get("/v1/diagnostics", s.handleDiagnostics)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
