// ABOUTME: Unit-of-work wrapper around SQLite write transactions
// ABOUTME: Retries on write conflicts and defers side effects until after commit

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// txMaxAttempts bounds conflict retries before surfacing ErrConflictExhausted
	txMaxAttempts = 3

	// txBackoffStep scales linearly with the attempt number
	txBackoffStep = 100 * time.Millisecond
)

// Tx is one unit of work. It carries the underlying transaction plus an
// explicit, ordered list of after-commit callbacks. Row operations are
// methods on Tx so that a domain mutation, its update-log append, and its
// idempotency record are atomic with respect to concurrent retries.
type Tx struct {
	tx          *sql.Tx
	ctx         context.Context
	afterCommit []func() error
}

// AfterCommit registers a callback to run once the transaction has durably
// committed. Callbacks run in registration order; a failure is logged and
// never rolls back or re-queues the transaction.
func (t *Tx) AfterCommit(fn func() error) {
	t.afterCommit = append(t.afterCommit, fn)
}

// RunInTx runs fn inside a write transaction. If the store reports a write
// conflict (SQLITE_BUSY), the whole fn is retried up to txMaxAttempts times
// with attempt-scaled backoff before ErrConflictExhausted is returned. All
// other errors propagate unchanged. After-commit callbacks registered by fn
// run only after a successful commit.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}

		if attempt >= txMaxAttempts {
			s.logger.Warn("transaction conflict retries exhausted", "attempts", attempt)
			return fmt.Errorf("%w: %v", ErrConflictExhausted, err)
		}

		backoff := time.Duration(attempt) * txBackoffStep
		s.logger.Debug("transaction conflict, retrying",
			"attempt", attempt,
			"backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce executes fn in a single transaction attempt and, on commit,
// drains the after-commit queue.
func (s *SQLiteStore) runOnce(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	t := &Tx{tx: sqlTx, ctx: ctx}

	if err := fn(t); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.runAfterCommit(t.afterCommit)
	return nil
}

// runAfterCommit invokes callbacks in registration order. Failures and
// panics are swallowed after logging: the write is already durable and a
// notification is best-effort, at-least-once via the poll path.
func (s *SQLiteStore) runAfterCommit(callbacks []func() error) {
	for i, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("after-commit callback panicked", "index", i, "panic", r)
				}
			}()
			if err := fn(); err != nil {
				s.logger.Error("after-commit callback failed", "index", i, "error", err)
			}
		}()
	}
}

// isBusy reports whether err is SQLite's write-conflict signal.
// modernc.org/sqlite surfaces these as SQLITE_BUSY / "database is locked".
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
