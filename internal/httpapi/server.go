// ABOUTME: HTTP server assembly for the looma-sync API
// ABOUTME: Routes requests to the recording service and update feed

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/looma-sync/internal/feed"
	"github.com/2389/looma-sync/internal/recording"
	"github.com/2389/looma-sync/internal/store"
)

// userHeader carries the verified caller identity, set by the fronting
// proxy after phone verification.
const userHeader = "X-Looma-User"

// Server holds the handler dependencies for the HTTP API.
type Server struct {
	sessions *recording.Service
	updates  *feed.Service
	logger   *slog.Logger
}

// NewServer creates an API server. Pass nil logger for default.
func NewServer(sessions *recording.Service, updates *feed.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions: sessions,
		updates:  updates,
		logger:   logger.With("component", "httpapi"),
	}
}

// Routes returns the full API handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/audio", s.handleUploadAudio)
	mux.HandleFunc("POST /api/sessions/{id}/finish", s.handleFinishSession)
	mux.HandleFunc("GET /api/updates", s.handleListUpdates)
	mux.HandleFunc("GET /api/updates/stream", s.handleStreamUpdates)

	return mux
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// callerID extracts the verified user id, or empty when absent.
func callerID(r *http.Request) string {
	return r.Header.Get(userHeader)
}

// requireCaller writes a 401 and returns empty when no identity header is
// present.
func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request) string {
	user := callerID(r)
	if user == "" {
		s.sendJSONError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
	}
	return user
}

// sendDomainError maps domain errors to status codes. Unexpected errors
// become opaque 500s with the detail logged server-side.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrNotOwner):
		s.sendJSONError(w, http.StatusForbidden, "not the session owner")
	case errors.Is(err, store.ErrInvalidTransition):
		s.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrConflictExhausted):
		s.sendJSONError(w, http.StatusServiceUnavailable, "store busy, retry")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
