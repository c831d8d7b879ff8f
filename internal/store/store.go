// ABOUTME: Data types and sentinel errors for looma-sync persistence
// ABOUTME: Defines TrackingSession, AudioChunk, UpdateRecord, LockRecord, RepeatKeyRecord

package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNotOwner is returned when a caller operates on a session it does not own
var ErrNotOwner = errors.New("not session owner")

// ErrInvalidTransition is returned when an event is not valid for the
// session's current state. Callers should treat it as non-retryable.
var ErrInvalidTransition = errors.New("invalid session transition")

// ErrConflictExhausted is returned when a transaction hit a write conflict
// on every retry attempt. Callers may retry the whole operation.
var ErrConflictExhausted = errors.New("transaction conflict: retries exhausted")

// SessionState is the closed set of tracking session states
type SessionState string

const (
	SessionStarting   SessionState = "starting"
	SessionInProgress SessionState = "in_progress"
	SessionProcessing SessionState = "processing"
	SessionFinished   SessionState = "finished"
	SessionCanceled   SessionState = "canceled"
)

// Terminal reports whether no further transitions are allowed from the state.
func (s SessionState) Terminal() bool {
	return s == SessionFinished || s == SessionCanceled
}

// UpdateType categorizes the kind of update delivered to clients
type UpdateType string

const (
	UpdateTypeSessionCreated     UpdateType = "session-created"
	UpdateTypeSessionUpdated     UpdateType = "session-updated"
	UpdateTypeSessionAudio       UpdateType = "session-audio-updated"
	UpdateTypeSessionTranscribed UpdateType = "session-transcribed"
)

// TrackingSession is a recording session owned by a single user.
// It is created in SessionStarting and only ever terminalized, never deleted.
type TrackingSession struct {
	ID             string
	OwnerID        string
	State          SessionState
	AudioFormat    string
	AudioRef       *string // object storage reference, set when audio is finalized
	AudioDuration  time.Duration
	AudioSize      int64
	Transcription  *string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// AudioChunk is one ordered piece of a session's audio.
// Index values are contiguous and 0-based per session.
type AudioChunk struct {
	SessionID string
	Index     int
	Format    string
	Data      []byte
	CreatedAt time.Time
}

// UpdateRecord is one entry in a user's append-only update log.
// Seq is strictly increasing and gap-free within the user partition.
type UpdateRecord struct {
	UserID    string
	Seq       int64
	Type      UpdateType
	Payload   json.RawMessage
	CreatedAt time.Time
}

// UpdatesPage is one page of a cursor read over a user's update log.
type UpdatesPage struct {
	Records []UpdateRecord
	HasMore bool
}

// LockRecord is a lease lock row. At most one row exists per key; the
// holder is valid only while ExpiresAt is in the future.
type LockRecord struct {
	Key         string
	HolderToken string
	ExpiresAt   time.Time
}

// RepeatKeyRecord is a time-boxed idempotency record. Once expired the
// key may be reused as if absent.
type RepeatKeyRecord struct {
	Key       string
	Value     string
	ExpiresAt time.Time
}

