// Package recording drives the tracking-session state machine.
//
// Sessions move STARTING → IN_PROGRESS → PROCESSING → FINISHED, with
// CANCELED reachable from the non-terminal states via the expiry worker.
// Every transition runs inside one store transaction together with its
// update-log append, so clients observing the feed never see a state the
// store did not commit.
//
// Chunk uploads are guarded by a caller-supplied repeat key: a retried
// upload with the same key observes the original outcome and applies no
// new effects. The expiry and transcription workers each run under their
// own lease lock so exactly one process performs the work; the
// transactions, not the leases, guarantee data integrity.
package recording
