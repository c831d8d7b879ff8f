// ABOUTME: Tracking-session lifecycle: create, chunk upload, finish
// ABOUTME: Transitions commit atomically with their update-log records

package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/looma-sync/internal/feed"
	"github.com/2389/looma-sync/internal/media"
	"github.com/2389/looma-sync/internal/store"
)

const (
	// DefaultStaleAfter is how long a session may sit without activity
	// before the expiry worker moves it along.
	DefaultStaleAfter = 2 * time.Minute

	// DefaultRepeatKeyTTL bounds how long a retried upload still observes
	// its original outcome.
	DefaultRepeatKeyTTL = 24 * time.Hour
)

// Config tunes the recording service timings.
type Config struct {
	StaleAfter   time.Duration
	RepeatKeyTTL time.Duration
}

// Service owns tracking-session transitions. All state changes run inside
// store transactions together with their feed appends.
type Service struct {
	store       *store.SQLiteStore
	feed        *feed.Service
	blobs       media.BlobStore
	transcriber media.Transcriber
	staleAfter  time.Duration
	repeatTTL   time.Duration
	logger      *slog.Logger
}

// NewService creates a recording service. transcriber may be nil when no
// speech-to-text backend is configured; the transcription worker then
// reports an error instead of silently draining the backlog.
func NewService(s *store.SQLiteStore, f *feed.Service, blobs media.BlobStore, transcriber media.Transcriber, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.RepeatKeyTTL <= 0 {
		cfg.RepeatKeyTTL = DefaultRepeatKeyTTL
	}
	return &Service{
		store:       s,
		feed:        f,
		blobs:       blobs,
		transcriber: transcriber,
		staleAfter:  cfg.StaleAfter,
		repeatTTL:   cfg.RepeatKeyTTL,
		logger:      logger.With("component", "recording"),
	}
}

// SessionUpdatePayload is the feed payload for state transitions.
type SessionUpdatePayload struct {
	SessionID string             `json:"session_id"`
	State     store.SessionState `json:"state"`
}

// SessionAudioPayload is the feed payload for chunk arrivals that do not
// change the session's state.
type SessionAudioPayload struct {
	SessionID  string `json:"session_id"`
	ChunkCount int    `json:"chunk_count"`
}

// SessionTranscribedPayload is the feed payload carrying a finished
// transcription.
type SessionTranscribedPayload struct {
	SessionID     string `json:"session_id"`
	Transcription string `json:"transcription"`
}

// UploadResult is the outcome of a chunk upload. It is stored verbatim
// under the upload's repeat key, so a retried request observes the same
// result without re-applying effects.
type UploadResult struct {
	SessionID      string             `json:"session_id"`
	State          store.SessionState `json:"state"`
	ChunksAccepted int                `json:"chunks_accepted"`
	AlreadyApplied bool               `json:"-"`
}

// Create starts a new tracking session for ownerID. The session begins in
// SessionStarting; no update record is emitted until audio arrives, so a
// session abandoned before its first chunk never reaches the feed.
func (s *Service) Create(ctx context.Context, ownerID string) (*store.TrackingSession, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	now := time.Now()
	sess := &store.TrackingSession{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		State:          store.SessionStarting,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	err := s.store.RunInTx(ctx, func(tx *store.Tx) error {
		return tx.CreateSession(sess)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session created", "session_id", sess.ID, "owner_id", ownerID)
	return sess, nil
}

// Get returns a session after verifying ownership.
func (s *Service) Get(ctx context.Context, ownerID, sessionID string) (*store.TrackingSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, store.ErrNotOwner
	}
	return sess, nil
}

// UploadChunks appends audio chunks to a session. The first upload moves
// the session from SessionStarting to SessionInProgress and emits a
// session-updated record; later uploads emit session-audio-updated. The
// whole operation is guarded by repeatKey: a retry with the same key
// returns the recorded result with AlreadyApplied set and no new effects.
func (s *Service) UploadChunks(ctx context.Context, ownerID, sessionID, repeatKey, format string, chunks [][]byte) (*UploadResult, error) {
	if repeatKey == "" {
		return nil, fmt.Errorf("repeat key is required")
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks provided")
	}

	storeKey := "upload:" + sessionID + ":" + repeatKey
	var result *UploadResult

	err := s.store.RunInTx(ctx, func(tx *store.Tx) error {
		result = nil

		sess, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if sess.OwnerID != ownerID {
			return store.ErrNotOwner
		}

		// Repeat check comes after the ownership check so only the owner
		// can observe a recorded outcome, but before the state check so a
		// retry still replays after the session has moved on.
		if recorded, hit, err := tx.CheckRepeat(storeKey); err != nil {
			return err
		} else if hit {
			var prior UploadResult
			if err := json.Unmarshal([]byte(recorded), &prior); err != nil {
				return fmt.Errorf("decoding recorded upload result: %w", err)
			}
			prior.AlreadyApplied = true
			result = &prior
			return nil
		}

		if sess.State != store.SessionStarting && sess.State != store.SessionInProgress {
			return fmt.Errorf("%w: cannot accept audio in state %s", store.ErrInvalidTransition, sess.State)
		}

		now := time.Now()
		next, err := tx.NextChunkIndex(sessionID)
		if err != nil {
			return err
		}
		for i, data := range chunks {
			chunk := &store.AudioChunk{
				SessionID: sessionID,
				Index:     next + i,
				Format:    format,
				Data:      data,
				CreatedAt: now,
			}
			if err := tx.InsertChunk(chunk); err != nil {
				return err
			}
		}

		transitioned := sess.State == store.SessionStarting
		if transitioned {
			sess.State = store.SessionInProgress
		}
		if sess.AudioFormat == "" {
			sess.AudioFormat = format
		}
		sess.LastActivityAt = now
		if err := tx.UpdateSession(sess); err != nil {
			return err
		}

		if transitioned {
			_, err = s.feed.Append(tx, ownerID, store.UpdateTypeSessionUpdated, SessionUpdatePayload{
				SessionID: sessionID,
				State:     sess.State,
			})
		} else {
			count, cerr := tx.CountChunks(sessionID)
			if cerr != nil {
				return cerr
			}
			_, err = s.feed.Append(tx, ownerID, store.UpdateTypeSessionAudio, SessionAudioPayload{
				SessionID:  sessionID,
				ChunkCount: count,
			})
		}
		if err != nil {
			return err
		}

		result = &UploadResult{
			SessionID:      sessionID,
			State:          sess.State,
			ChunksAccepted: len(chunks),
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding upload result: %w", err)
		}
		return tx.SaveRepeat(storeKey, string(encoded), s.repeatTTL)
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyApplied {
		s.logger.Debug("repeated upload observed prior result",
			"session_id", sessionID, "repeat_key", repeatKey)
	}
	return result, nil
}

// Finish finalizes an in-progress session's audio. Chunks are assembled
// and uploaded to blob storage outside any transaction, then the
// SessionInProgress → SessionProcessing transition commits with the audio
// reference attached. The state and chunk count are re-checked inside the
// transaction so a concurrent Finish, expiry, or upload loses cleanly. No
// update record is emitted
// here; clients hear about the session again when transcription lands.
func (s *Service) Finish(ctx context.Context, ownerID, sessionID string) (*store.TrackingSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, store.ErrNotOwner
	}
	if sess.State != store.SessionInProgress {
		return nil, fmt.Errorf("%w: cannot finish in state %s", store.ErrInvalidTransition, sess.State)
	}

	chunks, err := s.store.SessionChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: session has no audio", store.ErrInvalidTransition)
	}

	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.Data)
	}
	ref, err := s.blobs.Upload(ctx, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("uploading session audio: %w", err)
	}
	info, err := s.blobs.Probe(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("probing session audio: %w", err)
	}

	var final *store.TrackingSession
	err = s.store.RunInTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetSession(sessionID)
		if err != nil {
			return err
		}
		if cur.State != store.SessionInProgress {
			return fmt.Errorf("%w: cannot finish in state %s", store.ErrInvalidTransition, cur.State)
		}

		// An upload that committed between the chunk read and this
		// transaction would be silently missing from the assembled audio.
		// Abort so the caller retries with the full set.
		count, err := tx.CountChunks(sessionID)
		if err != nil {
			return err
		}
		if count != len(chunks) {
			return fmt.Errorf("%w: audio changed during finalize", store.ErrConflictExhausted)
		}

		cur.State = store.SessionProcessing
		cur.AudioRef = &ref
		cur.AudioDuration = info.Duration
		cur.AudioSize = info.Size
		cur.LastActivityAt = time.Now()
		if err := tx.UpdateSession(cur); err != nil {
			return err
		}
		final = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session audio finalized",
		"session_id", sessionID,
		"audio_ref", ref,
		"size", info.Size,
		"duration", info.Duration)
	return final, nil
}
