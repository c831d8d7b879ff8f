// ABOUTME: Expiry worker pass moving stale sessions to their next state
// ABOUTME: Also purges expired repeat keys as transactional housekeeping

package recording

import (
	"context"
	"time"

	"github.com/2389/looma-sync/internal/lease"
	"github.com/2389/looma-sync/internal/store"
)

// expiryBatchSize caps how many stale sessions one pass transitions, so a
// large backlog never holds a single write transaction open too long.
const expiryBatchSize = 50

// ExpireStale runs one expiry pass and returns how many sessions it
// transitioned. Stale SessionStarting and SessionInProgress sessions
// without finalized audio become SessionCanceled; a stale session whose
// audio was already finalized moves to SessionProcessing so the
// transcription worker picks it up. Stale SessionProcessing sessions
// missing an audio reference are the leftovers of a crashed finalize and
// are canceled. Expired repeat keys are purged in the same transaction.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.staleAfter)
	var transitioned int

	err := s.store.RunInTx(ctx, func(tx *store.Tx) error {
		transitioned = 0

		stale, err := tx.StaleSessions([]store.SessionState{
			store.SessionStarting,
			store.SessionInProgress,
			store.SessionProcessing,
		}, cutoff, expiryBatchSize)
		if err != nil {
			return err
		}

		now := time.Now()
		for _, sess := range stale {
			var next store.SessionState
			switch {
			case sess.State == store.SessionProcessing && sess.AudioRef != nil:
				// Waiting on transcription, not abandoned.
				continue
			case sess.AudioRef != nil:
				next = store.SessionProcessing
			default:
				next = store.SessionCanceled
			}

			s.logger.Info("expiring stale session",
				"session_id", sess.ID,
				"from", sess.State,
				"to", next,
				"last_activity", sess.LastActivityAt)

			sess.State = next
			sess.LastActivityAt = now
			if err := tx.UpdateSession(sess); err != nil {
				return err
			}
			if _, err := s.feed.Append(tx, sess.OwnerID, store.UpdateTypeSessionUpdated, SessionUpdatePayload{
				SessionID: sess.ID,
				State:     next,
			}); err != nil {
				return err
			}
			transitioned++
		}

		purged, err := tx.PurgeExpiredRepeats(now)
		if err != nil {
			return err
		}
		if purged > 0 {
			s.logger.Debug("purged expired repeat keys", "count", purged)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return transitioned, nil
}

// ExpiryWorker adapts ExpireStale to a lease worker pass.
func (s *Service) ExpiryWorker() lease.Worker {
	return func(ctx context.Context, renew func() bool) error {
		n, err := s.ExpireStale(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("expiry pass complete", "transitioned", n)
		}
		return nil
	}
}
