// ABOUTME: Update log service joining the store's append path to live fan-out
// ABOUTME: Appends in-tx and publishes to the broadcaster after commit

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/2389/looma-sync/internal/store"
)

// Service appends to and reads from per-user update logs. The broadcaster
// is injected so the fan-out scope is explicit and owned by the caller.
type Service struct {
	store  *store.SQLiteStore
	bcast  *Broadcaster
	logger *slog.Logger
}

// NewService creates a feed service. Pass nil logger for default.
func NewService(s *store.SQLiteStore, bcast *Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		bcast:  bcast,
		logger: logger.With("component", "feed"),
	}
}

// Append writes the next update record for a user inside the caller's
// transaction and registers an after-commit publish to same-process
// subscribers. The payload is marshaled to JSON.
func (s *Service) Append(tx *store.Tx, userID string, utype store.UpdateType, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling update payload: %w", err)
	}

	rec, err := tx.AppendUpdate(userID, utype, raw)
	if err != nil {
		return 0, err
	}

	tx.AfterCommit(func() error {
		s.bcast.Publish(rec)
		return nil
	})

	s.logger.Debug("update appended",
		"user_id", userID,
		"seq", rec.Seq,
		"type", utype)
	return rec.Seq, nil
}

// ReadSince is the catch-up path: records with seq > afterSeq, ascending,
// capped at 100 per page with HasMore for re-paging.
func (s *Service) ReadSince(ctx context.Context, userID string, afterSeq int64, limit int) (*store.UpdatesPage, error) {
	return s.store.ReadUpdatesSince(ctx, userID, afterSeq, limit)
}

// Subscribe attaches a same-process subscriber to a user's live updates.
func (s *Service) Subscribe(ctx context.Context, userID string) (<-chan *store.UpdateRecord, string) {
	return s.bcast.Subscribe(ctx, userID)
}

// Unsubscribe detaches a subscriber registered with Subscribe.
func (s *Service) Unsubscribe(userID, subID string) {
	s.bcast.Unsubscribe(userID, subID)
}
