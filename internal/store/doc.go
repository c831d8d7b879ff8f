// Package store provides the shared SQLite store that all looma-sync
// processes coordinate through.
//
// # Architecture
//
// The store is the single source of truth: every mutation of shared rows
// happens inside RunInTx, which wraps a write transaction, retries on
// write conflicts, and runs registered after-commit callbacks once the
// transaction is durable. Row operations are methods on *Tx so domain
// logic composes by nesting inside one unit of work.
//
// # Data Models
//
//   - TrackingSession: a recording session with an explicit state machine
//     (starting, in_progress, processing, finished, canceled)
//   - AudioChunk: ordered audio data attached to a session
//   - UpdateRecord: append-only, per-user event log with a strictly
//     increasing seq, read back with a cursor
//   - LockRecord: a named lease lock row used to elect background workers
//   - RepeatKeyRecord: a time-boxed idempotency record guarding retried
//     client writes
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Write transactions begin IMMEDIATE (via the _txlock DSN option) so a
// busy database surfaces at BEGIN rather than mid-transaction. SQLITE_BUSY
// is the write-conflict signal that RunInTx retries on.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrNotOwner: caller does not own the session
//   - ErrInvalidTransition: domain precondition failed for the current state
//   - ErrConflictExhausted: a transaction conflicted on every retry
//
// All methods accept context.Context for cancellation support.
package store
