// Package lease elects exactly one active worker per named job across
// all running looma-sync processes.
//
// A lease is a row in the shared store holding a key, a holder token, and
// an expiry. A worker holds the lease only while it keeps renewing more
// frequently than the lease duration; an expired lease is stolen by the
// next caller. Losing processes back off a poll delay and retry.
//
// The lease exists to avoid duplicate work, not to protect data
// integrity: all mutation goes through the store's serializable
// transactions. The lease is fencing-free — a holder that loses its lease
// mid-operation is not prevented from completing an in-flight write, so
// worker bodies must re-check domain state inside their own mutating
// transaction.
package lease
