// Package harness runs world scenarios for conformance testing.
//
// A scenario sets up a world, registers listeners that cancel, invalidate
// or filter events, runs a flow of phases through the engine, and checks
// the trace, the journal and the final world state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	world: overworld
//	catalog: catalog/          # optional CUE phase catalog
//	setup:
//	  - set_block: { pos: "0,64,0", block: stone }
//	listeners:
//	  - name: no_tnt
//	    event: change_block
//	    block: tnt
//	    cancel: true
//	flow:
//	  - phase: block_tick
//	    actions:
//	      - set_block: { pos: "0,65,0", block: tnt }
//	    expect:
//	      outcome: cancelled
//	  - click: [BUTTON_MIDDLE, MODE_PICKBLOCK, CLICK_INSIDE_WINDOW]
//	    context: { player: alex, container: chest, clicked_slot: 0 }
//	    actions:
//	      - set_slot: { inventory: "player:alex", cursor: true, item: { type: stone, count: 64 } }
//	assertions:
//	  - type: trace_contains
//	    event: change_block
//	    cancelled: true
//	  - type: final_state
//	    key: "block:0,65,0"
//	    absent: true
//
// A step with neither phase nor click runs its actions untracked. A
// nested action runs a step as a phase inside the current one.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: an event appears in the trace (payload subset match)
//   - trace_order: event types first appear in the given order
//   - trace_count: an event appears exactly N times
//   - final_state: a world snapshot matches expected fields, or is absent
//   - phase_outcome: the journal holds phases with the given outcome
//
// # Deterministic Testing
//
// Every run uses a fresh engine clock, testutil.SequentialIDs for phase
// IDs, and an in-memory journal, so the same scenario always produces the
// same trace. RunWithGolden compares it against testdata/golden.
package harness
