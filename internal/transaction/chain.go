package transaction

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/fault"
	"github.com/roach88/causeway/internal/ir"
)

// entry is a transaction's position in the chain tree.
//
// INVARIANTS:
//   - seq is the 1-based insertion index; a child's seq is greater than its parent's
//   - parent is a back-pointer only; the chain owns every entry through all
//   - restored flips false -> true exactly once
type entry struct {
	tx       Transaction
	id       string
	seq      int64
	parent   *entry
	children []*entry
	restored bool
}

// Chain is the ordered tree of transactions captured during one phase.
// It is owned by the simulation goroutine.
type Chain struct {
	phaseID  string
	restorer Restorer
	roots    []*entry
	all      []*entry // insertion order
	index    map[Transaction]*entry
	open     []*Scope
	sealed   bool
}

// NewChain creates an empty chain for the given phase. r receives every
// forced restore.
func NewChain(phaseID string, r Restorer) *Chain {
	return &Chain{
		phaseID:  phaseID,
		restorer: r,
		index:    make(map[Transaction]*entry),
	}
}

// PhaseID returns the owning phase's ID.
func (c *Chain) PhaseID() string {
	return c.phaseID
}

// Append records tx. It becomes a child of the innermost open scope whose
// transaction accepts children, or a top-level entry when there is none.
func (c *Chain) Append(tx Transaction) {
	c.append(tx)
}

func (c *Chain) append(tx Transaction) *entry {
	if c.sealed {
		panic(fault.New(fault.CodePhaseClosed, "append %s to completed chain", tx.Kind()).
			With("phase_id", c.phaseID).
			With("target", tx.Target()))
	}

	e := &entry{tx: tx, seq: int64(len(c.all) + 1)}
	id, err := ir.TransactionID(c.phaseID, e.seq, string(tx.Kind()), tx.Original())
	if err != nil {
		slog.Warn("transaction id fell back to sequence", "phase_id", c.phaseID, "seq", e.seq, "error", err)
		id = c.phaseID + "/" + strconv.FormatInt(e.seq, 10)
	}
	e.id = id

	if parent := c.openParent(); parent != nil {
		e.parent = parent
		parent.children = append(parent.children, e)
	} else {
		c.roots = append(c.roots, e)
	}
	c.all = append(c.all, e)
	c.index[tx] = e
	return e
}

func (c *Chain) openParent() *entry {
	for i := len(c.open) - 1; i >= 0; i-- {
		if e := c.open[i].entry; e.tx.AcceptsChildren() {
			return e
		}
	}
	return nil
}

// Scope keeps a transaction open as the parent of later appends.
// Close it exactly once, in LIFO order, normally with defer.
type Scope struct {
	chain  *Chain
	entry  *entry
	index  int
	closed bool
}

// Nest appends tx and opens it as a parent scope.
func (c *Chain) Nest(tx Transaction) *Scope {
	e := c.append(tx)
	s := &Scope{chain: c, entry: e, index: len(c.open)}
	c.open = append(c.open, s)
	return s
}

// Transaction returns the scope's transaction.
func (s *Scope) Transaction() Transaction {
	return s.entry.tx
}

// Close ends the scope. Closing a scope that is not innermost, or closing
// it twice, panics with a *fault.Error.
func (s *Scope) Close() {
	c := s.chain
	if s.closed {
		panic(fault.New(fault.CodeFrameClosed, "transaction scope closed twice").
			With("tx_id", s.entry.id))
	}
	top := len(c.open) - 1
	if top < 0 || c.open[top] != s {
		panic(fault.New(fault.CodeFrameOrder, "transaction scope %d closed while scope %d is innermost", s.index, top).
			With("tx_id", s.entry.id).
			With("phase_id", c.phaseID))
	}
	c.open = c.open[:top]
	s.closed = true
}

// Len returns the number of transactions in the chain.
func (c *Chain) Len() int {
	return len(c.all)
}

// OpenScopes returns the number of scopes not yet closed.
func (c *Chain) OpenScopes() int {
	return len(c.open)
}

// Transactions returns every transaction in insertion order.
func (c *Chain) Transactions() []Transaction {
	out := make([]Transaction, len(c.all))
	for i, e := range c.all {
		out[i] = e.tx
	}
	return out
}

// Parent returns the transaction tx is nested under, or nil.
func (c *Chain) Parent(tx Transaction) Transaction {
	if e, ok := c.index[tx]; ok && e.parent != nil {
		return e.parent.tx
	}
	return nil
}

// Restored reports whether tx has been restored.
func (c *Chain) Restored(tx Transaction) bool {
	e, ok := c.index[tx]
	return ok && e.restored
}

// Node is one transaction as seen by Walk.
type Node struct {
	ID       string
	Seq      int64
	Depth    int
	ParentID string
	Tx       Transaction
	Restored bool
}

// Walk visits every transaction in insertion order until fn returns false.
// Insertion order is a pre-order traversal of the tree.
func (c *Chain) Walk(fn func(Node) bool) {
	for _, e := range c.all {
		n := Node{ID: e.id, Seq: e.seq, Tx: e.tx, Restored: e.restored}
		for p := e.parent; p != nil; p = p.parent {
			n.Depth++
		}
		if e.parent != nil {
			n.ParentID = e.parent.id
		}
		if !fn(n) {
			return
		}
	}
}

// Batch is a run of consecutive sibling transactions with the same
// BatchKey. Each batch becomes at most one event.
type Batch struct {
	Key          string
	Kind         Kind
	Parent       Transaction
	Transactions []Transaction
	entries      []*entry
}

// EventSink turns batches into events and dispatches them. It is
// implemented by the owning phase.
type EventSink interface {
	// Convert builds the event for b, or nil when b produces none.
	Convert(b Batch, c cause.Cause, ctx cause.Context) event.Event
	// Dispatch delivers e and reports whether it was cancelled.
	Dispatch(e event.Event) (cancelled bool)
}

// Commit walks the chain in insertion order. For every batch it opens a
// cause frame on stack, applies the batch's frame mutators, converts the
// batch to an event and dispatches it, then commits the batch's children
// inside the same frame. Marker batches produce no event.
//
// When an event is cancelled, policy decides what is restored: the whole
// chain (RollbackChain, dispatch stops) or only the cancelled batch with
// its children (RollbackBatch, dispatch continues). Entries a listener
// rejected individually are restored without cancelling anything else.
func (c *Chain) Commit(stack *cause.Stack, sink EventSink, policy ir.CancelPolicy) CommitResult {
	c.sealed = true
	var res CommitResult

	if c.commitLevel(c.roots, nil, stack, sink, policy, &res) {
		res.Cancelled = true
		res.Rollback.merge(c.Rollback())
	}
	return res
}

// commitLevel returns true when a cancellation requires whole-chain rollback.
func (c *Chain) commitLevel(entries []*entry, parent *entry, stack *cause.Stack, sink EventSink, policy ir.CancelPolicy, res *CommitResult) bool {
	for _, b := range batchesOf(entries, parent) {
		if c.commitBatch(b, parent, stack, sink, policy, res) {
			return true
		}
	}
	return false
}

func (c *Chain) commitBatch(b Batch, parent *entry, stack *cause.Stack, sink EventSink, policy ir.CancelPolicy, res *CommitResult) bool {
	frame := stack.PushFrame()
	defer frame.Close()

	var parentTx Transaction
	if parent != nil {
		parentTx = parent.tx
	}
	for _, e := range b.entries {
		if m := e.tx.FrameMutator(parentTx); m != nil {
			m(frame)
		}
	}

	if b.Kind != KindPrepareDrops {
		if ev := sink.Convert(b, stack.CurrentCause(), stack.CurrentContext()); ev != nil {
			cancelled := sink.Dispatch(ev)
			res.Events = append(res.Events, ev)
			if cancelled {
				res.CancelledBatches++
				if policy != ir.RollbackBatch {
					return true
				}
				res.Rollback.merge(c.restoreSubtrees(b.entries))
				return false
			}
			if f, ok := ev.(event.Filterable); ok {
				if rejected := f.Rejected(); len(rejected) > 0 {
					picked := make([]*entry, 0, len(rejected))
					for _, i := range rejected {
						if i >= 0 && i < len(b.entries) {
							picked = append(picked, b.entries[i])
						}
					}
					res.Rollback.merge(c.restoreSubtrees(picked))
				}
			}
		}
	}

	for _, e := range b.entries {
		if e.restored || len(e.children) == 0 {
			continue
		}
		if c.commitLevel(e.children, e, stack, sink, policy, res) {
			return true
		}
	}
	return false
}

func batchesOf(entries []*entry, parent *entry) []Batch {
	var out []Batch
	var parentTx Transaction
	if parent != nil {
		parentTx = parent.tx
	}
	for _, e := range entries {
		if e.restored {
			continue
		}
		key := e.tx.BatchKey()
		if n := len(out); n > 0 && out[n-1].Key == key {
			out[n-1].Transactions = append(out[n-1].Transactions, e.tx)
			out[n-1].entries = append(out[n-1].entries, e)
			continue
		}
		out = append(out, Batch{
			Key:          key,
			Kind:         e.tx.Kind(),
			Parent:       parentTx,
			Transactions: []Transaction{e.tx},
			entries:      []*entry{e},
		})
	}
	return out
}

// Rollback restores every transaction not yet restored, in strict reverse
// insertion order: later before earlier, children before their parent.
// Restore failures are logged and collected; rollback always continues.
func (c *Chain) Rollback() RollbackReport {
	c.sealed = true
	var report RollbackReport
	for i := len(c.all) - 1; i >= 0; i-- {
		if e := c.all[i]; !e.restored {
			c.restore(e, &report)
		}
	}
	return report
}

// RestoreBatch restores the transactions of b and everything nested under
// them, in reverse insertion order.
func (c *Chain) RestoreBatch(b Batch) RollbackReport {
	entries := make([]*entry, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		if e, ok := c.index[tx]; ok {
			entries = append(entries, e)
		}
	}
	return c.restoreSubtrees(entries)
}

func (c *Chain) restoreSubtrees(roots []*entry) RollbackReport {
	var picked []*entry
	var collect func(e *entry)
	collect = func(e *entry) {
		picked = append(picked, e)
		for _, ch := range e.children {
			collect(ch)
		}
	}
	for _, e := range roots {
		collect(e)
	}
	slices.SortFunc(picked, func(a, b *entry) int { return int(b.seq - a.seq) })
	picked = slices.CompactFunc(picked, func(a, b *entry) bool { return a == b })

	var report RollbackReport
	for _, e := range picked {
		if !e.restored {
			c.restore(e, &report)
		}
	}
	return report
}

func (c *Chain) restore(e *entry, report *RollbackReport) {
	if e.restored {
		panic(fault.New(fault.CodeDoubleRestore, "transaction restored twice").
			With("tx_id", e.id).
			With("phase_id", c.phaseID))
	}
	e.restored = true

	err := c.safeRestore(e.tx)
	if err == nil {
		report.Restored++
		return
	}

	p := NewPrinter("Restore failed").
		Add("Phase", c.phaseID).
		Add("ID", e.id).
		Add("Seq", e.seq)
	e.tx.Describe(p)
	p.Add("Error", err)

	slog.Error("transaction restore failed",
		"phase_id", c.phaseID,
		"tx_id", e.id,
		"kind", e.tx.Kind(),
		"target", e.tx.Target(),
		"original", e.tx.Original().String(),
		"error", err,
	)
	slog.Debug(p.String())

	report.Failures = append(report.Failures, RestoreFailure{
		ID:          e.id,
		Kind:        e.tx.Kind(),
		Target:      e.tx.Target(),
		Err:         err,
		Description: p.String(),
	})
}

// safeRestore converts a panicking restore into an error. Engine faults are
// re-panicked.
func (c *Chain) safeRestore(tx Transaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := fault.As(r); ok {
				panic(r)
			}
			err = fmt.Errorf("restore panicked: %v", r)
		}
	}()
	return tx.Restore(c.restorer)
}

// Dump describes every transaction for invariant-violation diagnostics.
func (c *Chain) Dump() string {
	p := NewPrinter("Transaction chain " + c.phaseID)
	c.Walk(func(n Node) bool {
		p.Section(fmt.Sprintf("#%d depth=%d restored=%t", n.Seq, n.Depth, n.Restored))
		n.Tx.Describe(p)
		p.End()
		return true
	})
	return p.String()
}
