// ABOUTME: Transcription worker pass draining processing sessions
// ABOUTME: Speech-to-text runs outside the transaction; the commit re-checks state

package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/looma-sync/internal/lease"
	"github.com/2389/looma-sync/internal/store"
)

// TranscribeNext transcribes one eligible session and returns whether any
// work was done. The speech-to-text call runs outside any transaction;
// before committing, the lease is renewed and the session's state is
// re-read, so a pass whose lock lapsed mid-call writes nothing.
func (s *Service) TranscribeNext(ctx context.Context, renew func() bool) (bool, error) {
	sess, err := s.store.NextTranscribable(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if s.transcriber == nil {
		return false, fmt.Errorf("session %s awaits transcription but no transcriber is configured", sess.ID)
	}

	s.logger.Info("transcribing session", "session_id", sess.ID, "audio_ref", *sess.AudioRef)
	text, err := s.transcriber.Transcribe(ctx, *sess.AudioRef)
	if err != nil {
		return false, fmt.Errorf("transcribing session %s: %w", sess.ID, err)
	}

	if renew != nil && !renew() {
		return false, lease.ErrLockNotHeld
	}

	err = s.store.RunInTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetSession(sess.ID)
		if err != nil {
			return err
		}
		// Another worker may have finished or expiry may have canceled
		// the session while we were transcribing. Their commit wins.
		if cur.State != store.SessionProcessing || cur.Transcription != nil {
			s.logger.Info("discarding transcription, session moved on",
				"session_id", sess.ID, "state", cur.State)
			return nil
		}

		cur.Transcription = &text
		cur.State = store.SessionFinished
		cur.LastActivityAt = time.Now()
		if err := tx.UpdateSession(cur); err != nil {
			return err
		}

		if _, err := s.feed.Append(tx, cur.OwnerID, store.UpdateTypeSessionTranscribed, SessionTranscribedPayload{
			SessionID:     cur.ID,
			Transcription: text,
		}); err != nil {
			return err
		}
		_, err = s.feed.Append(tx, cur.OwnerID, store.UpdateTypeSessionUpdated, SessionUpdatePayload{
			SessionID: cur.ID,
			State:     cur.State,
		})
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// TranscriptionWorker adapts TranscribeNext to a lease worker pass. One
// session per poll round keeps lease renewal honest for slow backends.
func (s *Service) TranscriptionWorker() lease.Worker {
	return func(ctx context.Context, renew func() bool) error {
		_, err := s.TranscribeNext(ctx, renew)
		return err
	}
}
