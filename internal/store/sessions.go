// ABOUTME: TrackingSession and AudioChunk row operations
// ABOUTME: Mutations are Tx methods; read-only lookups are available on the store

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const sessionColumns = `id, owner_id, state, audio_format, audio_ref,
	audio_duration_ms, audio_size, transcription, created_at, last_activity_at`

// CreateSession inserts a new tracking session row
func (t *Tx) CreateSession(sess *TrackingSession) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO tracking_sessions (
			id, owner_id, state, audio_format, audio_ref,
			audio_duration_ms, audio_size, transcription, created_at, last_activity_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID,
		sess.OwnerID,
		string(sess.State),
		sess.AudioFormat,
		sess.AudioRef,
		sess.AudioDuration.Milliseconds(),
		sess.AudioSize,
		sess.Transcription,
		sess.CreatedAt.UTC().Format(timeFormat),
		sess.LastActivityAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session inside the transaction, or ErrNotFound
func (t *Tx) GetSession(id string) (*TrackingSession, error) {
	return scanSession(t.tx.QueryRowContext(t.ctx,
		`SELECT `+sessionColumns+` FROM tracking_sessions WHERE id = ?`, id))
}

// GetSession retrieves a session outside any transaction, or ErrNotFound
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*TrackingSession, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM tracking_sessions WHERE id = ?`, id))
}

// UpdateSession persists the mutable session fields
func (t *Tx) UpdateSession(sess *TrackingSession) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE tracking_sessions SET
			state = ?,
			audio_format = ?,
			audio_ref = ?,
			audio_duration_ms = ?,
			audio_size = ?,
			transcription = ?,
			last_activity_at = ?
		WHERE id = ?
	`,
		string(sess.State),
		sess.AudioFormat,
		sess.AudioRef,
		sess.AudioDuration.Milliseconds(),
		sess.AudioSize,
		sess.Transcription,
		sess.LastActivityAt.UTC().Format(timeFormat),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// NextChunkIndex returns the next contiguous chunk index for a session
func (t *Tx) NextChunkIndex(sessionID string) (int, error) {
	var next int
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT COALESCE(MAX(idx) + 1, 0)
		FROM audio_chunks
		WHERE session_id = ?
	`, sessionID)
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("querying next chunk index: %w", err)
	}
	return next, nil
}

// InsertChunk appends one audio chunk row
func (t *Tx) InsertChunk(c *AudioChunk) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO audio_chunks (session_id, idx, format, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.SessionID, c.Index, c.Format, c.Data, c.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("inserting audio chunk: %w", err)
	}
	return nil
}

// CountChunks returns how many chunks a session has
func (t *Tx) CountChunks(sessionID string) (int, error) {
	var n int
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM audio_chunks WHERE session_id = ?`, sessionID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// SessionChunks returns a session's chunks ordered by index
func (s *SQLiteStore) SessionChunks(ctx context.Context, sessionID string) ([]AudioChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, idx, format, data, created_at
		FROM audio_chunks
		WHERE session_id = ?
		ORDER BY idx ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []AudioChunk
	for rows.Next() {
		var c AudioChunk
		var createdStr string
		if err := rows.Scan(&c.SessionID, &c.Index, &c.Format, &c.Data, &createdStr); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		c.CreatedAt, err = parseTime(createdStr)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk rows: %w", err)
	}
	return chunks, nil
}

// StaleSessions returns up to limit sessions in the given states whose
// last activity is before cutoff, oldest first. Time comparison happens
// in Go after parsing, so timestamp encoding never affects correctness.
func (t *Tx) StaleSessions(states []SessionState, cutoff time.Time, limit int) ([]*TrackingSession, error) {
	if len(states) == 0 || limit <= 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]any, 0, len(states))
	for i, st := range states {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+sessionColumns+` FROM tracking_sessions
		 WHERE state IN (`+placeholders+`)
		 ORDER BY last_activity_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stale sessions: %w", err)
	}
	defer rows.Close()

	var stale []*TrackingSession
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		if sess.LastActivityAt.Before(cutoff) {
			stale = append(stale, sess)
			if len(stale) >= limit {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale session rows: %w", err)
	}
	return stale, nil
}

// NextTranscribable returns one processing session with finalized audio
// and no transcription yet, or ErrNotFound. Oldest activity first so a
// backlog drains in order.
func (s *SQLiteStore) NextTranscribable(ctx context.Context) (*TrackingSession, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM tracking_sessions
		 WHERE state = ? AND audio_ref IS NOT NULL AND transcription IS NULL
		 ORDER BY last_activity_at ASC
		 LIMIT 1`, string(SessionProcessing)))
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*TrackingSession, error) {
	sess, err := scanSessionFrom(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sess, err
}

func scanSessionRows(rows *sql.Rows) (*TrackingSession, error) {
	return scanSessionFrom(rows)
}

func scanSessionFrom(sc rowScanner) (*TrackingSession, error) {
	var sess TrackingSession
	var state, createdStr, activityStr string
	var durationMS int64

	err := sc.Scan(
		&sess.ID,
		&sess.OwnerID,
		&state,
		&sess.AudioFormat,
		&sess.AudioRef,
		&durationMS,
		&sess.AudioSize,
		&sess.Transcription,
		&createdStr,
		&activityStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}

	sess.State = SessionState(state)
	sess.AudioDuration = time.Duration(durationMS) * time.Millisecond
	sess.CreatedAt, err = parseTime(createdStr)
	if err != nil {
		return nil, err
	}
	sess.LastActivityAt, err = parseTime(activityStr)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
