// Package feed is the per-user update log clients follow for live state.
//
// Append runs inside the caller's unit of work, so an update record
// commits atomically with the domain mutation that triggered it. Each
// record carries a strictly increasing, gap-free seq within its user
// partition.
//
// Delivery has two paths. Subscribers connected to the process that
// performed the write receive the record through the in-memory
// Broadcaster right after commit. Everyone else catches up by polling
// ReadSince with the last seq they consumed — polling is the only path
// guaranteed across processes; the broadcaster is an injected,
// process-scoped convenience, never a source of truth.
package feed
