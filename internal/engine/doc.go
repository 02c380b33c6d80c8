// Package engine runs a world on a single simulation goroutine.
//
// ARCHITECTURE:
//
// Single-Writer Task Loop:
// The world and its phase tracker are owned by exactly one goroutine, the
// one calling Engine.Run. Other goroutines never touch them; they hand
// work to the loop as Tasks. This ensures:
//   - the phase stack and cause stack are never shared
//   - events are dispatched in a deterministic order
//   - a replayed task list produces the same journal
//
// Task Processing Flow:
//  1. Any goroutine calls Enqueue or Submit (or Intake for batches)
//  2. Engine.Run dequeues tasks one at a time, in FIFO order
//  3. Each task runs inside its phase via Tracker.Run
//  4. The phase commits (events dispatched) or rolls back
//  5. The task's Result is handed back to the submitter
//
// Intake prepares work concurrently (decoding, validation) with a bounded
// errgroup and then submits the prepared tasks in input order, so
// concurrency never reaches the world.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Phases are stamped with the monotonic seq from Clock.Next().
// Wall-clock time is never used for ordering.
//
// Fatal Stays Fatal:
// A task that panics is logged with the tracker dump and the panic is
// re-raised on the loop goroutine. Invariant violations are never
// swallowed to keep the loop alive.
package engine
