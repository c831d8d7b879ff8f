// ABOUTME: Lease-based distributed lock over the shared store
// ABOUTME: AcquireOrRenew in one transaction plus a polling worker loop

package lease

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/looma-sync/internal/store"
)

// ErrLockNotHeld signals that the caller's lease lapsed. Worker bodies
// return it to stop side effects; the loop backs off and retries, it is
// never fatal.
var ErrLockNotHeld = errors.New("lock not held")

// DefaultPollDelay is how long a losing process waits before retrying
// acquisition.
const DefaultPollDelay = 5 * time.Second

// Worker is one pass of a background job. It runs only while the lease is
// held and is invoked once per poll round. Long passes should call renew
// before each side effect and stop when it returns false.
type Worker func(ctx context.Context, renew func() bool) error

// Manager acquires and renews lease locks in the shared store.
type Manager struct {
	store  *store.SQLiteStore
	logger *slog.Logger
}

// NewManager creates a lease manager. Pass nil logger for default.
func NewManager(s *store.SQLiteStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		logger: logger.With("component", "lease"),
	}
}

// AcquireOrRenew attempts to take or refresh the named lease for
// holderToken within a single transaction. It returns true when the
// caller holds the lease afterward. An absent row is inserted and then
// re-read rather than assumed won; an expired row held by someone else is
// stolen. Renewal happens on every successful call, not only when the
// remaining lease runs low.
func (m *Manager) AcquireOrRenew(ctx context.Context, name, holderToken string, lease time.Duration) (bool, error) {
	var held bool
	err := m.store.RunInTx(ctx, func(tx *store.Tx) error {
		// Bounded: insert/steal each restart the read at most once.
		for range 3 {
			rec, err := tx.GetLock(name)
			if errors.Is(err, store.ErrNotFound) {
				rec = &store.LockRecord{
					Key:         name,
					HolderToken: holderToken,
					ExpiresAt:   time.Now().Add(lease),
				}
				if err := tx.PutLock(rec); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			if rec.HolderToken == holderToken {
				rec.ExpiresAt = time.Now().Add(lease)
				if err := tx.PutLock(rec); err != nil {
					return err
				}
				held = true
				return nil
			}

			if time.Now().After(rec.ExpiresAt) {
				// Abandoned by a previous holder: steal and re-read
				m.logger.Info("stealing expired lease",
					"lock", name,
					"previous_holder", rec.HolderToken)
				rec.HolderToken = holderToken
				rec.ExpiresAt = time.Now().Add(lease)
				if err := tx.PutLock(rec); err != nil {
					return err
				}
				continue
			}

			held = false
			return nil
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return held, nil
}

// RunUnderLease runs worker once per poll round while holding the named
// lease, until ctx is cancelled. The lease is renewed at the top of every
// round; non-holders sleep pollDelay before retrying. The worker receives
// a renew callback for long passes; when it returns false the worker must
// stop all side effects derived from holding the lock.
func (m *Manager) RunUnderLease(ctx context.Context, name string, worker Worker, pollDelay, lease time.Duration) {
	if pollDelay <= 0 {
		pollDelay = DefaultPollDelay
	}
	holderToken := uuid.New().String()
	logger := m.logger.With("lock", name, "holder", holderToken)
	logger.Info("worker loop starting", "poll_delay", pollDelay, "lease", lease)

	for {
		if ctx.Err() != nil {
			logger.Info("worker loop stopping")
			return
		}

		held, err := m.AcquireOrRenew(ctx, name, holderToken, lease)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("lease acquisition failed", "error", err)
			}
			sleep(ctx, pollDelay)
			continue
		}
		if !held {
			logger.Debug("lease held elsewhere, backing off")
			sleep(ctx, pollDelay)
			continue
		}

		renew := func() bool {
			ok, err := m.AcquireOrRenew(ctx, name, holderToken, lease)
			if err != nil {
				logger.Warn("lease renewal failed", "error", err)
				return false
			}
			return ok
		}

		if err := worker(ctx, renew); err != nil {
			if errors.Is(err, ErrLockNotHeld) {
				logger.Info("lease lost mid-pass")
			} else if ctx.Err() == nil {
				logger.Error("worker pass failed", "error", err)
			}
		}

		sleep(ctx, pollDelay)
	}
}

// sleep waits for d or until ctx is done, whichever comes first
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
