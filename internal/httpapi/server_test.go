// ABOUTME: Tests for HTTP API handlers over a real store
// ABOUTME: Verifies status mapping, idempotent uploads, and update reads

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/looma-sync/internal/feed"
	"github.com/2389/looma-sync/internal/media"
	"github.com/2389/looma-sync/internal/recording"
	"github.com/2389/looma-sync/internal/store"
)

func setupTestServer(t *testing.T) (http.Handler, *recording.Service) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bcast := feed.NewBroadcaster(nil)
	t.Cleanup(bcast.Close)
	fd := feed.NewService(st, bcast, nil)

	blobs, err := media.NewDiskStore(t.TempDir(), nil)
	require.NoError(t, err)

	svc := recording.NewService(st, fd, blobs, nil, recording.Config{}, nil)
	return NewServer(svc, fd, nil).Routes(), svc
}

func doJSON(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Looma-User", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, h http.Handler, user string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/sessions", user, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func uploadBody(key string, chunks ...string) UploadAudioRequest {
	req := UploadAudioRequest{RepeatKey: key, Format: "pcm16"}
	for _, c := range chunks {
		req.Chunks = append(req.Chunks, []byte(c))
	}
	return req
}

func TestHealth(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSession(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/sessions", "alice", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "starting", resp.State)
	assert.NotEmpty(t, resp.CreatedAt)
}

func TestCreateSession_MissingIdentity(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSession(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")

	rec := doJSON(t, h, http.MethodGet, "/api/sessions/"+id, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, id, resp.ID)

	// Foreign and missing sessions.
	rec = doJSON(t, h, http.MethodGet, "/api/sessions/"+id, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/sessions/missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAudio(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k1", "chunk-a", "chunk-b"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UploadAudioResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Accepted)
	assert.False(t, resp.AlreadyApplied)
	assert.Equal(t, "in_progress", resp.State)
	assert.Equal(t, 2, resp.ChunksAccepted)
}

func TestUploadAudio_RepeatedKey(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")

	first := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k1", "chunk"))
	require.Equal(t, http.StatusOK, first.Code)

	again := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k1", "chunk"))
	require.Equal(t, http.StatusOK, again.Code)

	var resp UploadAudioResponse
	require.NoError(t, json.NewDecoder(again.Body).Decode(&resp))
	assert.True(t, resp.Accepted)
	assert.True(t, resp.AlreadyApplied)
}

func TestUploadAudio_BadRequests(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")
	path := "/api/sessions/" + id + "/audio"

	// Invalid JSON.
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("not json"))
	req.Header.Set("X-Looma-User", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing fields.
	assert.Equal(t, http.StatusBadRequest,
		doJSON(t, h, http.MethodPost, path, "alice", uploadBody("", "c")).Code)
	assert.Equal(t, http.StatusBadRequest,
		doJSON(t, h, http.MethodPost, path, "alice", uploadBody("k1")).Code)
}

func TestUploadAudio_StatusMapping(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/missing/audio", "alice", uploadBody("k1", "c"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "mallory", uploadBody("k1", "c"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Finished audio accepts no more chunks.
	require.Equal(t, http.StatusOK,
		doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k1", "c")).Code)
	require.Equal(t, http.StatusOK,
		doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/finish", "alice", nil).Code)

	rec = doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k2", "c"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFinishSession(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")

	require.Equal(t, http.StatusOK,
		doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k1", "audio-data")).Code)

	rec := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/finish", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "processing", resp.State)
	assert.Equal(t, int64(10), resp.AudioSize)

	// A second finish conflicts.
	rec = doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/finish", "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListUpdates(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")

	require.Equal(t, http.StatusOK,
		doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k1", "a")).Code)
	require.Equal(t, http.StatusOK,
		doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k2", "b")).Code)

	rec := doJSON(t, h, http.MethodGet, "/api/updates", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListUpdatesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.HasMore)
	require.Len(t, resp.Updates, 2)

	// Envelope: payload fields flattened alongside seq and type.
	first := resp.Updates[0]
	assert.Equal(t, float64(1), first["seq"])
	assert.Equal(t, "session-updated", first["type"])
	assert.Equal(t, id, first["session_id"])
	assert.Equal(t, "in_progress", first["state"])

	second := resp.Updates[1]
	assert.Equal(t, float64(2), second["seq"])
	assert.Equal(t, "session-audio-updated", second["type"])
	assert.Equal(t, float64(2), second["chunk_count"])
}

func TestListUpdates_Cursor(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		require.Equal(t, http.StatusOK,
			doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody(key, "c")).Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/updates?after=2", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListUpdatesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Updates, 1)
	assert.Equal(t, float64(3), resp.Updates[0]["seq"])

	rec = doJSON(t, h, http.MethodGet, "/api/updates?after=nope", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListUpdates_UserIsolation(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")
	require.Equal(t, http.StatusOK,
		doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k1", "a")).Code)

	rec := doJSON(t, h, http.MethodGet, "/api/updates", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListUpdatesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Updates)
}

func TestStreamUpdates_CatchUp(t *testing.T) {
	h, _ := setupTestServer(t)
	id := createSession(t, h, "alice")
	require.Equal(t, http.StatusOK,
		doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/audio", "alice", uploadBody("k1", "a")).Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/updates/stream", nil).WithContext(ctx)
	req.Header.Set("X-Looma-User", "alice")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	// The handler streams until the context expires; the catch-up record
	// must be in the body by then.
	<-done
	body := rec.Body.String()
	assert.Contains(t, body, "event: update")
	assert.Contains(t, body, `"type":"session-updated"`)
	assert.Contains(t, body, `"seq":1`)
}
