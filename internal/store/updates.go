// ABOUTME: Per-user append-only update log with monotonic seq values
// ABOUTME: Appends run in-tx; cursor reads are paginated with a HasMore flag

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// defaultUpdatesLimit is applied when a caller passes no page size
	defaultUpdatesLimit = 50

	// maxUpdatesLimit caps a single readSince page
	maxUpdatesLimit = 100
)

// AppendUpdate inserts the next update record for a user, computing
// seq = MAX(existing)+1 inside the enclosing transaction. Under the
// immediate write lock a concurrent appender conflicts at BEGIN and is
// retried by RunInTx, so the sequence stays gap-free.
func (t *Tx) AppendUpdate(userID string, utype UpdateType, payload json.RawMessage) (*UpdateRecord, error) {
	var maxSeq int64
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT COALESCE(MAX(seq), 0)
		FROM user_updates
		WHERE user_id = ?
	`, userID)
	if err := row.Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("querying max seq: %w", err)
	}

	rec := &UpdateRecord{
		UserID:    userID,
		Seq:       maxSeq + 1,
		Type:      utype,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO user_updates (user_id, seq, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.UserID, rec.Seq, string(rec.Type), string(rec.Payload), rec.CreatedAt.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("inserting update record: %w", err)
	}

	return rec, nil
}

// ReadUpdatesSince returns records with seq > afterSeq in ascending order,
// capped at limit (default 50, max 100). HasMore signals that the client
// should re-page from the max seq it has consumed. Calling it twice with
// the same arguments and no intervening append returns identical results.
func (s *SQLiteStore) ReadUpdatesSince(ctx context.Context, userID string, afterSeq int64, limit int) (*UpdatesPage, error) {
	if limit <= 0 {
		limit = defaultUpdatesLimit
	}
	if limit > maxUpdatesLimit {
		limit = maxUpdatesLimit
	}

	// Fetch limit+1 to detect whether more records exist
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, seq, type, payload, created_at
		FROM user_updates
		WHERE user_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, userID, afterSeq, limit+1)
	if err != nil {
		return nil, fmt.Errorf("querying updates: %w", err)
	}
	defer rows.Close()

	var records []UpdateRecord
	for rows.Next() {
		var rec UpdateRecord
		var utype, payload, createdStr string
		if err := rows.Scan(&rec.UserID, &rec.Seq, &utype, &payload, &createdStr); err != nil {
			return nil, fmt.Errorf("scanning update row: %w", err)
		}
		rec.Type = UpdateType(utype)
		rec.Payload = json.RawMessage(payload)
		rec.CreatedAt, err = parseTime(createdStr)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating update rows: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	return &UpdatesPage{Records: records, HasMore: hasMore}, nil
}
