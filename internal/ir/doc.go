// Package ir holds the value model shared by every layer of causeway.
//
// It contains type definitions only: the constrained IRValue family used for
// block properties and entity data, the immutable snapshot types captured by
// transactions, and the record types written to the journal. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types in IRValue - positions and quantities are int64
//   - Snapshots are values; once captured they are never mutated
//   - All JSON tags use snake_case
//   - Identity is content-addressed (see hash.go), ordering uses logical seq
package ir
