// ABOUTME: Update feed handlers: cursor reads and SSE live streaming
// ABOUTME: The cursor read is the correctness path; SSE is best-effort

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/looma-sync/internal/store"
)

// ListUpdatesResponse is the JSON response for GET /api/updates.
type ListUpdatesResponse struct {
	HasMore bool             `json:"has_more"`
	Updates []map[string]any `json:"updates"`
}

// updateEnvelope flattens a record's payload and stamps seq, type, and
// created_at alongside the payload's own fields.
func (s *Server) updateEnvelope(rec store.UpdateRecord) map[string]any {
	m := make(map[string]any)
	if err := json.Unmarshal(rec.Payload, &m); err != nil {
		s.logger.Warn("malformed update payload",
			"user_id", rec.UserID,
			"seq", rec.Seq,
			"error", err)
		m = make(map[string]any)
	}
	m["seq"] = rec.Seq
	m["type"] = string(rec.Type)
	m["created_at"] = rec.CreatedAt.Format(time.RFC3339)
	return m
}

// handleListUpdates handles GET /api/updates?after=N&limit=M.
func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	user := s.requireCaller(w, r)
	if user == "" {
		return
	}

	after, err := parseInt64Param(r, "after", 0)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseInt64Param(r, "limit", 0)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.updates.ReadSince(r.Context(), user, after, int(limit))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	response := ListUpdatesResponse{
		HasMore: page.HasMore,
		Updates: make([]map[string]any, len(page.Records)),
	}
	for i, rec := range page.Records {
		response.Updates[i] = s.updateEnvelope(rec)
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleStreamUpdates handles GET /api/updates/stream.
// Sends any records past ?after= as catch-up, then streams live records
// until the client disconnects. Delivery here is best-effort and
// same-process only; clients resume reliably via GET /api/updates.
func (s *Server) handleStreamUpdates(w http.ResponseWriter, r *http.Request) {
	user := s.requireCaller(w, r)
	if user == "" {
		return
	}

	after, err := parseInt64Param(r, "after", 0)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before catch-up so records committed in between are not
	// lost; duplicates are filtered by seq below.
	ctx := r.Context()
	ch, subID := s.updates.Subscribe(ctx, user)
	defer s.updates.Unsubscribe(user, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	lastSeq := after
	for {
		page, err := s.updates.ReadSince(ctx, user, lastSeq, 100)
		if err != nil {
			s.writeSSEEvent(w, "error", map[string]string{"error": "catch-up read failed"})
			flusher.Flush()
			return
		}
		for _, rec := range page.Records {
			s.writeSSEEvent(w, "update", s.updateEnvelope(rec))
			lastSeq = rec.Seq
		}
		flusher.Flush()
		if !page.HasMore {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if rec.Seq <= lastSeq {
				continue
			}
			s.writeSSEEvent(w, "update", s.updateEnvelope(*rec))
			flusher.Flush()
			lastSeq = rec.Seq
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// parseInt64Param reads a non-negative integer query parameter.
func parseInt64Param(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}
