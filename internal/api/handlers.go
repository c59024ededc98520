package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/illthorn/internal/session"
)

// ConnectRequest is the JSON body for POST /v1/sessions.
type ConnectRequest struct {
	Name string `json:"name"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port"`
}

// CommandRequest is the JSON body for POST /v1/sessions/{name}/commands.
// Raw commands are written without a line terminator.
type CommandRequest struct {
	Command string `json:"command"`
	Raw     bool   `json:"raw,omitempty"`
}

// CommandResponse is returned when a command is queued.
type CommandResponse struct {
	Session string `json:"session"`
	Status  string `json:"status"`
}

// SessionListResponse is returned by GET /v1/sessions.
type SessionListResponse struct {
	Sessions []session.Info `json:"sessions"`
}

// DebugLogResponse is returned by POST /v1/sessions/{name}/debug-log.
type DebugLogResponse struct {
	Path string `json:"path"`
}

// DiscoveryResponse is returned by GET /v1/discovery.
type DiscoveryResponse struct {
	Dir      string               `json:"dir"`
	Sessions []session.Discovered `json:"sessions"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		Sessions:      len(s.sessions.List()),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleConnect handles POST /v1/sessions.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		s.writeError(w, http.StatusBadRequest, "port must be between 1 and 65535")
		return
	}
	if req.Host == "" {
		req.Host = s.config.DefaultHost
	}

	sess, err := s.sessions.Connect(r.Context(), session.Config{Name: req.Name, Host: req.Host, Port: req.Port})
	switch {
	case errors.Is(err, session.ErrSessionExists):
		s.writeError(w, http.StatusConflict, "session already exists")
		return
	case err != nil:
		s.logger.Warn("connect failed", "session", req.Name, "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, sess.Info())
}

// handleListSessions handles GET /v1/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SessionListResponse{Sessions: s.sessions.List()})
}

// handleGetSession handles GET /v1/sessions/{name}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

// handleDisconnect handles DELETE /v1/sessions/{name}.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.sessions.Disconnect(name); err != nil {
		s.logger.Warn("disconnect failed", "session", name, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCommand handles POST /v1/sessions/{name}/commands.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	if req.Raw {
		err = s.sessions.SendRaw(r.Context(), name, []byte(req.Command))
	} else {
		err = s.sessions.Send(r.Context(), name, req.Command)
	}
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, session.ErrQueueFull):
		s.writeError(w, http.StatusServiceUnavailable, "command queue is full")
		return
	case errors.Is(err, session.ErrSessionClosed):
		s.writeError(w, http.StatusConflict, "session is closing")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "failed to queue command")
		return
	}

	respondJSON(w, http.StatusAccepted, CommandResponse{Session: name, Status: "queued"})
}

// handleDebugLog handles POST /v1/sessions/{name}/debug-log.
func (s *Server) handleDebugLog(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		s.writeError(w, http.StatusServiceUnavailable, "transcripts are disabled")
		return
	}
	name := chi.URLParam(r, "name")
	path, err := s.transcripts.WriteDebugLog(r.Context(), name, s.config.DebugLogDir)
	switch {
	case errors.Is(err, session.ErrNoTranscript):
		s.writeError(w, http.StatusNotFound, "no transcript for session")
		return
	case err != nil:
		s.logger.Error("failed to write debug log", "session", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to write debug log")
		return
	}

	s.logger.Info("debug log written", "session", name, "path", path)
	respondJSON(w, http.StatusOK, DebugLogResponse{Path: path})
}

// handleDiscovery handles GET /v1/discovery.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	found, err := session.Scan(s.config.DiscoveryDir, s.config.DefaultHost)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if found == nil {
		found = []session.Discovered{}
	}
	respondJSON(w, http.StatusOK, DiscoveryResponse{Dir: s.config.DiscoveryDir, Sessions: found})
}

// handleDiagnostics handles GET /v1/diagnostics.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(session.Diagnostics(s.config.DiscoveryDir)))
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
