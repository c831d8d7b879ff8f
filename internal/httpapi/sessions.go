// ABOUTME: Session endpoint handlers: create, fetch, audio upload, finish
// ABOUTME: Chunk uploads carry a client repeat key and are safe to retry

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/2389/looma-sync/internal/store"
)

// SessionResponse is the JSON shape of a tracking session.
type SessionResponse struct {
	ID              string  `json:"id"`
	State           string  `json:"state"`
	AudioFormat     string  `json:"audio_format,omitempty"`
	AudioDurationMS int64   `json:"audio_duration_ms,omitempty"`
	AudioSize       int64   `json:"audio_size,omitempty"`
	Transcription   *string `json:"transcription,omitempty"`
	CreatedAt       string  `json:"created_at"`
	LastActivityAt  string  `json:"last_activity_at"`
}

// UploadAudioRequest is the JSON request body for POST /api/sessions/{id}/audio.
// Chunks are base64-encoded binary, ordered.
type UploadAudioRequest struct {
	RepeatKey string   `json:"repeat_key"`
	Format    string   `json:"format"`
	Chunks    [][]byte `json:"chunks"`
}

// UploadAudioResponse is the JSON response for a chunk upload.
type UploadAudioResponse struct {
	Accepted       bool   `json:"accepted"`
	AlreadyApplied bool   `json:"already_applied"`
	State          string `json:"state"`
	ChunksAccepted int    `json:"chunks_accepted"`
}

func sessionResponse(sess *store.TrackingSession) SessionResponse {
	return SessionResponse{
		ID:              sess.ID,
		State:           string(sess.State),
		AudioFormat:     sess.AudioFormat,
		AudioDurationMS: sess.AudioDuration.Milliseconds(),
		AudioSize:       sess.AudioSize,
		Transcription:   sess.Transcription,
		CreatedAt:       sess.CreatedAt.Format(time.RFC3339),
		LastActivityAt:  sess.LastActivityAt.Format(time.RFC3339),
	}
}

// handleCreateSession handles POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user := s.requireCaller(w, r)
	if user == "" {
		return
	}

	sess, err := s.sessions.Create(r.Context(), user)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, sessionResponse(sess))
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user := s.requireCaller(w, r)
	if user == "" {
		return
	}

	sess, err := s.sessions.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, sessionResponse(sess))
}

// handleUploadAudio handles POST /api/sessions/{id}/audio.
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	user := s.requireCaller(w, r)
	if user == "" {
		return
	}

	req, err := parseUploadRequest(r.Body)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.sessions.UploadChunks(r.Context(), user, r.PathValue("id"), req.RepeatKey, req.Format, req.Chunks)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, UploadAudioResponse{
		Accepted:       true,
		AlreadyApplied: res.AlreadyApplied,
		State:          string(res.State),
		ChunksAccepted: res.ChunksAccepted,
	})
}

// handleFinishSession handles POST /api/sessions/{id}/finish.
func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	user := s.requireCaller(w, r)
	if user == "" {
		return
	}

	sess, err := s.sessions.Finish(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, sessionResponse(sess))
}

// parseUploadRequest parses and validates an UploadAudioRequest from the
// given reader. Returns an error if the JSON is invalid or required
// fields are missing.
func parseUploadRequest(r io.Reader) (*UploadAudioRequest, error) {
	var req UploadAudioRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.RepeatKey == "" {
		return nil, errors.New("repeat_key is required")
	}
	if req.Format == "" {
		return nil, errors.New("format is required")
	}
	if len(req.Chunks) == 0 {
		return nil, errors.New("chunks must not be empty")
	}

	return &req, nil
}
