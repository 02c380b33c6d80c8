package testutil

import (
	"fmt"
	"sync"
)

// DefaultIDPrefix is used by NewSequentialIDs when the prefix is empty.
const DefaultIDPrefix = "phase"

// SequentialIDs generates phase IDs "<prefix>-0001", "<prefix>-0002", ...
//
// The IDs are zero padded so they sort in generation order, which keeps
// journal listings and golden traces stable. It satisfies both
// engine.IDGenerator and phase.IDGenerator.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. The prefix is typically set in
// the scenario YAML:
//
//	phase_id_prefix: "redstone"
//
// If prefix is empty, DefaultIDPrefix is used.
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Count returns how many IDs have been generated.
func (g *SequentialIDs) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts the sequence at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
