package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
)

// Scenario defines a conformance scenario for one world.
// Setup writes the starting state untracked, listeners react to the events
// the flow's phases produce, and assertions check the resulting trace,
// journal and world.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// World names the simulated world. Defaults to DefaultWorld.
	World string `yaml:"world,omitempty"`

	// Catalog is a directory of CUE phase definitions added to the built-in
	// phases. Relative paths are resolved from the scenario file.
	Catalog string `yaml:"catalog,omitempty"`

	// PhaseIDPrefix prefixes the deterministic phase IDs ("<prefix>-0001").
	// Defaults to "phase".
	PhaseIDPrefix string `yaml:"phase_id_prefix,omitempty"`

	// Setup actions run untracked before any listener is registered.
	Setup []Action `yaml:"setup,omitempty"`

	// Listeners are registered on the event bus after setup.
	Listeners []ListenerSpec `yaml:"listeners,omitempty"`

	// Flow contains the steps to run, in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace, journal and world.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, phase_outcome
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultWorld is the world name used when a scenario does not set one.
const DefaultWorld = "world"

// Step is one engine task. A step with a phase (or click flags) runs its
// actions inside that phase; a step with neither runs them untracked.
type Step struct {
	// Name labels the step in results and logs.
	Name string `yaml:"name,omitempty"`

	// Phase is the name of a built-in or catalog phase.
	Phase string `yaml:"phase,omitempty"`

	// Click lists inventory click flags (BUTTON_PRIMARY, MODE_PICKBLOCK...).
	// The first click state matching the flags is used as the phase.
	Click []string `yaml:"click,omitempty"`

	// Context sets context values at phase begin (player, container,
	// plugin, clicked_slot, spawn_type, or any catalog key).
	Context map[string]any `yaml:"context,omitempty"`

	// Actions mutate the world.
	Actions []Action `yaml:"actions"`

	// Expect specifies the expected phase outcome. Only top-level steps
	// may carry one; nested outcomes are checked with phase_outcome.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies how a step's phase ends.
type ExpectClause struct {
	// Outcome is committed, cancelled, rolled_back_partial or empty.
	// Leave it unset, with Error set, for a phase that never began.
	Outcome string `yaml:"outcome,omitempty"`

	// Error is a substring of the step's error. Empty means no error.
	Error string `yaml:"error,omitempty"`
}

// Action is one world mutation. Exactly one field must be set.
type Action struct {
	SetBlock   *BlockAction `yaml:"set_block,omitempty"`
	BreakBlock *BreakAction `yaml:"break_block,omitempty"`
	Spawn      *SpawnAction `yaml:"spawn,omitempty"`
	Remove     string       `yaml:"remove_entity,omitempty"`
	SetSlot    *SlotAction  `yaml:"set_slot,omitempty"`

	// Protect makes the snapshot key read-only for rollback.
	Protect string `yaml:"protect,omitempty"`

	// Nested runs a step as a phase inside the current one.
	Nested *Step `yaml:"nested,omitempty"`

	// Fail makes the phase's work return an error with this message.
	Fail string `yaml:"fail,omitempty"`
}

// BlockAction sets a block.
type BlockAction struct {
	Pos        string         `yaml:"pos"`
	Block      string         `yaml:"block"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

// BreakAction breaks a block and drops items.
type BreakAction struct {
	Pos   string     `yaml:"pos"`
	Drops []ItemSpec `yaml:"drops,omitempty"`
}

// ItemSpec is an item stack. A zero count is empty.
type ItemSpec struct {
	Type  string `yaml:"type"`
	Count int64  `yaml:"count"`
}

// SpawnAction spawns an entity. SpawnType overrides the step's spawn_type.
type SpawnAction struct {
	ID        string         `yaml:"id,omitempty"`
	Type      string         `yaml:"type"`
	Pos       string         `yaml:"pos"`
	SpawnType string         `yaml:"spawn_type,omitempty"`
	Data      map[string]any `yaml:"data,omitempty"`
}

// SlotAction sets an inventory slot, or the player's cursor.
type SlotAction struct {
	Inventory string   `yaml:"inventory"`
	Index     int      `yaml:"index,omitempty"`
	Cursor    bool     `yaml:"cursor,omitempty"`
	Item      ItemSpec `yaml:"item"`
}

// ListenerSpec registers a listener that reacts to matching events.
type ListenerSpec struct {
	Name string `yaml:"name"`

	// Event is the event type, or "*" for all. Defaults to "*".
	Event string `yaml:"event,omitempty"`

	Priority        int  `yaml:"priority,omitempty"`
	IgnoreCancelled bool `yaml:"ignore_cancelled,omitempty"`

	// Phase matches events produced inside the named phase only.
	Phase string `yaml:"phase,omitempty"`

	// Block matches block events with a transition to this block type.
	Block string `yaml:"block,omitempty"`

	// Cancel cancels matching events.
	Cancel bool `yaml:"cancel,omitempty"`

	// Invalidate rejects block transitions to this block type.
	Invalidate string `yaml:"invalidate,omitempty"`

	// Filter rejects spawned entities of this type.
	Filter string `yaml:"filter,omitempty"`

	// Panic makes the listener panic with this message.
	Panic string `yaml:"panic,omitempty"`
}

// Assertion validates the trace, the journal or the final world.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of Event type (with Phase, Cancelled and Payload subset) was dispatched
	// - "trace_order": event types first appear in the order of Events
	// - "trace_count": Event was dispatched exactly Count times
	// - "final_state": the world snapshot at Key matches Expect, or is Absent
	// - "phase_outcome": the journal holds phases named Phase ending in Outcome (exactly Count when set)
	Type string `yaml:"type"`

	Event     string         `yaml:"event,omitempty"`
	Phase     string         `yaml:"phase,omitempty"`
	Cancelled *bool          `yaml:"cancelled,omitempty"`
	Payload   map[string]any `yaml:"payload,omitempty"`

	Events []string `yaml:"events,omitempty"`

	Count int `yaml:"count,omitempty"`

	Key    string         `yaml:"key,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Absent bool           `yaml:"absent,omitempty"`

	Outcome string `yaml:"outcome,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertPhaseOutcome  = "phase_outcome"
)

var validOutcomes = map[string]bool{
	string(ir.OutcomeCommitted):         true,
	string(ir.OutcomeCancelled):         true,
	string(ir.OutcomeRolledBackPartial): true,
	string(ir.OutcomeEmpty):             true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative catalog path is resolved from the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(filepath.Dir(path), scenario.Catalog)
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes scenario YAML without validating it.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Catalog != "" {
		if info, err := os.Stat(s.Catalog); err != nil || !info.IsDir() {
			return fmt.Errorf("catalog directory not found: %s", s.Catalog)
		}
	}

	for i, a := range s.Setup {
		if err := validateAction(fmt.Sprintf("setup[%d]", i), a, false); err != nil {
			return err
		}
		if a.Nested != nil || a.Fail != "" {
			return fmt.Errorf("setup[%d]: nested and fail are only allowed in flow steps", i)
		}
		if a.Spawn != nil && a.Spawn.SpawnType == "" {
			return fmt.Errorf("setup[%d].spawn: spawn_type is required in setup", i)
		}
	}

	for i, l := range s.Listeners {
		if err := validateListener(i, l); err != nil {
			return err
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step, false, true); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateStep checks a step and its nested steps. hasSpawnType reports
// whether an enclosing step already set spawn_type.
func validateStep(where string, step Step, hasSpawnType, topLevel bool) error {
	if step.Phase != "" && len(step.Click) > 0 {
		return fmt.Errorf("%s: phase and click are mutually exclusive", where)
	}
	tracked := step.Phase != "" || len(step.Click) > 0
	if !tracked && !topLevel {
		return fmt.Errorf("%s: a nested step needs a phase or click flags", where)
	}
	if !tracked && len(step.Context) > 0 {
		return fmt.Errorf("%s: context needs a phase", where)
	}
	if len(step.Click) > 0 {
		if _, err := phase.ParseButtons(step.Click); err != nil {
			return fmt.Errorf("%s.click: %w", where, err)
		}
	}
	if len(step.Actions) == 0 {
		return fmt.Errorf("%s: actions list is required and must be non-empty", where)
	}
	if step.Expect != nil {
		if !topLevel {
			return fmt.Errorf("%s: expect is only allowed on top-level steps", where)
		}
		if !tracked {
			return fmt.Errorf("%s: expect needs a phase", where)
		}
		switch {
		case step.Expect.Outcome == "" && step.Expect.Error == "":
			return fmt.Errorf("%s.expect: outcome or error is required", where)
		case step.Expect.Outcome != "" && !validOutcomes[step.Expect.Outcome]:
			return fmt.Errorf("%s.expect: unknown outcome %q", where, step.Expect.Outcome)
		}
	}

	if _, ok := step.Context[contextSpawnType]; ok {
		hasSpawnType = true
	}
	for i, a := range step.Actions {
		aw := fmt.Sprintf("%s.actions[%d]", where, i)
		if err := validateAction(aw, a, hasSpawnType); err != nil {
			return err
		}
		if a.Nested != nil {
			if err := validateStep(aw+".nested", *a.Nested, hasSpawnType, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateAction(where string, a Action, hasSpawnType bool) error {
	set := 0
	for _, ok := range []bool{
		a.SetBlock != nil, a.BreakBlock != nil, a.Spawn != nil, a.Remove != "",
		a.SetSlot != nil, a.Protect != "", a.Nested != nil, a.Fail != "",
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%s: exactly one action is required, got %d", where, set)
	}

	switch {
	case a.SetBlock != nil:
		if _, err := ir.ParsePosition(a.SetBlock.Pos); err != nil {
			return fmt.Errorf("%s.set_block: %w", where, err)
		}
		if a.SetBlock.Block == "" {
			return fmt.Errorf("%s.set_block: block is required", where)
		}
	case a.BreakBlock != nil:
		if _, err := ir.ParsePosition(a.BreakBlock.Pos); err != nil {
			return fmt.Errorf("%s.break_block: %w", where, err)
		}
	case a.Spawn != nil:
		if _, err := ir.ParsePosition(a.Spawn.Pos); err != nil {
			return fmt.Errorf("%s.spawn: %w", where, err)
		}
		if a.Spawn.Type == "" {
			return fmt.Errorf("%s.spawn: type is required", where)
		}
		if a.Spawn.SpawnType != "" && !ir.ValidSpawnTypes[ir.SpawnType(a.Spawn.SpawnType)] {
			return fmt.Errorf("%s.spawn: unknown spawn_type %q", where, a.Spawn.SpawnType)
		}
		if a.Spawn.SpawnType == "" && !hasSpawnType {
			return fmt.Errorf("%s.spawn: spawn_type is required (on the action or in the step context)", where)
		}
	case a.SetSlot != nil:
		if a.SetSlot.Inventory == "" {
			return fmt.Errorf("%s.set_slot: inventory is required", where)
		}
		if a.SetSlot.Index < 0 {
			return fmt.Errorf("%s.set_slot: index must be non-negative (use cursor: true)", where)
		}
	}
	return nil
}

func validateListener(index int, l ListenerSpec) error {
	if l.Name == "" {
		return fmt.Errorf("listeners[%d]: name is required", index)
	}
	if !l.Cancel && l.Invalidate == "" && l.Filter == "" && l.Panic == "" {
		return fmt.Errorf("listeners[%d]: one of cancel, invalidate, filter or panic is required", index)
	}
	if l.Invalidate != "" && l.Event != "" && l.Event != event.TypeChangeBlock {
		return fmt.Errorf("listeners[%d]: invalidate only applies to %s events", index, event.TypeChangeBlock)
	}
	if l.Filter != "" && l.Event != "" && l.Event != event.TypeSpawnEntity {
		return fmt.Errorf("listeners[%d]: filter only applies to %s events", index, event.TypeSpawnEntity)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for final_state", index)
		}
		if len(a.Expect) == 0 && !a.Absent {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	case AssertPhaseOutcome:
		if a.Phase == "" {
			return fmt.Errorf("assertions[%d]: phase is required for phase_outcome", index)
		}
		if !validOutcomes[a.Outcome] {
			return fmt.Errorf("assertions[%d]: unknown outcome %q for phase_outcome", index, a.Outcome)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for phase_outcome", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
