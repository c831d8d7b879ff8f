// ABOUTME: Shared test setup for store tests
// ABOUTME: Creates a temp-dir SQLite store with automatic cleanup

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func newTestSession(owner string) *TrackingSession {
	now := time.Now().UTC()
	return &TrackingSession{
		ID:             "sess-" + owner,
		OwnerID:        owner,
		State:          SessionStarting,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}
