// ABOUTME: Lease lock rows backing single-holder worker election
// ABOUTME: Row-level read/upsert; the acquire algorithm lives in internal/lease

package store

import (
	"database/sql"
	"fmt"
)

// GetLock retrieves the lock row for a key, or ErrNotFound.
func (t *Tx) GetLock(key string) (*LockRecord, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT key, holder_token, expires_at
		FROM locks
		WHERE key = ?
	`, key)

	var rec LockRecord
	var expiresStr string
	err := row.Scan(&rec.Key, &rec.HolderToken, &expiresStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying lock: %w", err)
	}

	rec.ExpiresAt, err = parseTime(expiresStr)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutLock inserts or overwrites the lock row for rec.Key. Overwriting a
// different holder's row is how an expired lease is stolen; the caller
// decides expiry, this only persists.
func (t *Tx) PutLock(rec *LockRecord) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO locks (key, holder_token, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			holder_token = excluded.holder_token,
			expires_at = excluded.expires_at
	`, rec.Key, rec.HolderToken, rec.ExpiresAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("upserting lock: %w", err)
	}
	return nil
}
