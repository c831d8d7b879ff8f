// ABOUTME: Repeat-key (idempotency) records guarding retried client writes
// ABOUTME: Check and save run inside the same transaction as the guarded effect

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CheckRepeat returns the value previously recorded for key, if any
// non-expired record exists. An expired record is treated as absent.
func (t *Tx) CheckRepeat(key string) (string, bool, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT value, expires_at
		FROM repeat_keys
		WHERE key = ?
	`, key)

	var value, expiresStr string
	err := row.Scan(&value, &expiresStr)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying repeat key: %w", err)
	}

	expiresAt, err := parseTime(expiresStr)
	if err != nil {
		return "", false, err
	}
	if !time.Now().Before(expiresAt) {
		return "", false, nil
	}
	return value, true, nil
}

// SaveRepeat records the outcome for key with the given TTL. An expired
// row under the same key is overwritten, reusing the key as if absent.
func (t *Tx) SaveRepeat(key, value string, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).UTC().Format(timeFormat)
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO repeat_keys (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("saving repeat key: %w", err)
	}
	return nil
}

// PurgeExpiredRepeats deletes repeat-key rows whose TTL has passed and
// returns how many were removed. Piggybacked on the expiry worker.
func (t *Tx) PurgeExpiredRepeats(now time.Time) (int64, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT key, expires_at FROM repeat_keys`)
	if err != nil {
		return 0, fmt.Errorf("querying repeat keys: %w", err)
	}
	defer rows.Close()

	var expired []string
	for rows.Next() {
		var key, expiresStr string
		if err := rows.Scan(&key, &expiresStr); err != nil {
			return 0, fmt.Errorf("scanning repeat key row: %w", err)
		}
		expiresAt, err := parseTime(expiresStr)
		if err != nil {
			return 0, err
		}
		if !now.Before(expiresAt) {
			expired = append(expired, key)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating repeat key rows: %w", err)
	}

	var purged int64
	for _, key := range expired {
		if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM repeat_keys WHERE key = ?`, key); err != nil {
			return purged, fmt.Errorf("deleting repeat key: %w", err)
		}
		purged++
	}
	return purged, nil
}
