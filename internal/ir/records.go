package ir

// Outcome is how a phase finished.
type Outcome string

const (
	OutcomeCommitted         Outcome = "committed"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomeRolledBackPartial Outcome = "rolled_back_partial"
	OutcomeEmpty             Outcome = "empty"
)

// CancelPolicy decides how much of a chain is rolled back when an event
// produced by it is cancelled.
type CancelPolicy string

const (
	// RollbackChain restores every transaction in the phase.
	RollbackChain CancelPolicy = "chain"
	// RollbackBatch restores only the transactions behind the cancelled event.
	RollbackBatch CancelPolicy = "batch"
)

// ValidCancelPolicies lists the accepted cancel policies.
var ValidCancelPolicies = map[CancelPolicy]bool{
	RollbackChain: true,
	RollbackBatch: true,
}

// PhaseKind groups phases by the source of the work they wrap.
type PhaseKind string

const (
	KindIdle     PhaseKind = "idle"
	KindTick     PhaseKind = "tick"
	KindPlugin   PhaseKind = "plugin"
	KindPacket   PhaseKind = "packet"
	KindGeneral  PhaseKind = "general"
	KindWorldGen PhaseKind = "worldgen"
)

// ValidPhaseKinds lists the accepted phase kinds.
var ValidPhaseKinds = map[PhaseKind]bool{
	KindIdle:     true,
	KindTick:     true,
	KindPlugin:   true,
	KindPacket:   true,
	KindGeneral:  true,
	KindWorldGen: true,
}

// PhaseSpec is a compiled phase definition from the catalog.
type PhaseSpec struct {
	Name         string       `json:"name"`
	Kind         PhaseKind    `json:"kind"`
	Requires     []string     `json:"requires,omitempty"` // context keys that must be present at begin
	CancelPolicy CancelPolicy `json:"cancel_policy"`
	Buttons      []string     `json:"buttons,omitempty"` // click mask flags, packet phases only
	Variant      string       `json:"variant,omitempty"` // click event variant
	Description  string       `json:"description,omitempty"`
}

// Value returns the canonical form of s.
func (s PhaseSpec) Value() IRObject {
	requires := make(IRArray, len(s.Requires))
	for i, r := range s.Requires {
		requires[i] = IRString(r)
	}
	buttons := make(IRArray, len(s.Buttons))
	for i, b := range s.Buttons {
		buttons[i] = IRString(b)
	}
	return IRObject{
		"name":          IRString(s.Name),
		"kind":          IRString(s.Kind),
		"requires":      requires,
		"cancel_policy": IRString(s.CancelPolicy),
		"buttons":       buttons,
		"variant":       IRString(s.Variant),
	}
}

// NOTE: The record types below are journal rows. Phase and transaction IDs
// are strings (UUIDv7 and content hashes), ordering always uses Seq.

// PhaseRecord is one completed phase.
type PhaseRecord struct {
	ID        string   `json:"id"`
	ParentID  string   `json:"parent_id,omitempty"` // enclosing phase, empty for top level
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Depth     int      `json:"depth"`
	BeganSeq  int64    `json:"began_seq"`
	EndedSeq  int64    `json:"ended_seq"`
	Outcome   Outcome  `json:"outcome"`
	TxCount   int      `json:"tx_count"`
	Events    int      `json:"events"`
	Failures  int      `json:"failures"` // restore failures during rollback
	Context   IRObject `json:"context,omitempty"`
	IRVersion string   `json:"ir_version"`
}

// TransactionRecord is one captured transaction of a phase.
type TransactionRecord struct {
	ID        string   `json:"id"`
	PhaseID   string   `json:"phase_id"`
	ParentID  string   `json:"parent_id,omitempty"` // enclosing transaction
	Seq       int64    `json:"seq"`                 // insertion order within the phase
	Kind      string   `json:"kind"`
	Target    string   `json:"target"`
	Original  IRObject `json:"original"`
	Resulting IRObject `json:"resulting,omitempty"` // nil for markers
	Restored  bool     `json:"restored"`
}

// CauseRecord is one entry of the phase's cause at begin, outermost first.
type CauseRecord struct {
	PhaseID string `json:"phase_id"`
	Seq     int64  `json:"seq"`
	Value   string `json:"value"`
}

// EventRecord is one event the phase dispatched.
type EventRecord struct {
	PhaseID   string   `json:"phase_id"`
	Seq       int64    `json:"seq"`
	Type      string   `json:"type"`
	Cancelled bool     `json:"cancelled"`
	Payload   IRObject `json:"payload"`
}
