// Package journal provides SQLite-backed durable storage for completed
// phases.
//
// The journal is an append-only log with:
//   - Phases: one row per completed phase, with its outcome
//   - Transactions: every captured mutation, its snapshots and restored flag
//   - Causes: the phase's cause at begin, outermost first
//   - Events: every event the phase dispatched, with its cancelled flag
//
// # Critical Patterns
//
// Logical Time:
//   - All ordering uses seq INTEGER columns, NEVER timestamps
//   - A replayed task list produces an identical journal
//
// Deterministic Query Results:
//   - Every list query orders by seq with an id tie-break
//
// Idempotent Writes:
//   - A phase ID is written once; rewriting the same phase is a no-op
//
// Snapshots, payloads and context values are stored as RFC 8785 canonical
// JSON (see internal/ir), so identical state always has identical bytes.
package journal
