package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causeway/internal/catalog"
	"github.com/roach88/causeway/internal/ir"
)

func runFile(t *testing.T, path string) *Result {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)
	return result
}

func TestRun_Scenarios(t *testing.T) {
	files := []string{
		"testdata/scenarios/tnt_veto.yaml",
		"testdata/scenarios/drops_filtered.yaml",
		"testdata/scenarios/protected_rollback.yaml",
		"testdata/scenarios/nested_failure.yaml",
		"testdata/scenarios/pick_block.yaml",
		"testdata/scenarios/redstone_catalog.yaml",
	}

	for _, f := range files {
		t.Run(f, func(t *testing.T) {
			result := runFile(t, f)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_StepResults(t *testing.T) {
	result := runFile(t, "testdata/scenarios/tnt_veto.yaml")

	require.Len(t, result.Steps, 2)
	assert.Equal(t, StepResult{Name: "block_tick", PhaseID: "phase-0001", Outcome: "committed"}, result.Steps[0])
	assert.Equal(t, StepResult{Name: "block_tick", PhaseID: "phase-0002", Outcome: "cancelled"}, result.Steps[1])
}

func TestRun_NestedPhasesEndFirst(t *testing.T) {
	result := runFile(t, "testdata/scenarios/nested_failure.yaml")

	var phases []TraceEvent
	for _, e := range result.Trace {
		if e.Type == TraceKindPhase {
			phases = append(phases, e)
		}
	}
	require.Len(t, phases, 2)

	assert.Equal(t, "plugin_call", phases[0].Phase)
	assert.Equal(t, 2, phases[0].Depth)
	assert.Equal(t, int64(2), phases[0].BeganSeq)
	assert.Equal(t, int64(3), phases[0].EndedSeq)

	assert.Equal(t, "block_tick", phases[1].Phase)
	assert.Equal(t, 1, phases[1].Depth)
	assert.Equal(t, int64(1), phases[1].BeganSeq)
	assert.Equal(t, int64(4), phases[1].EndedSeq)

	require.Len(t, result.Steps, 1)
	assert.Contains(t, result.Steps[0].Error, "brush exploded")
}

func TestRun_FilteredDropIsRejected(t *testing.T) {
	result := runFile(t, "testdata/scenarios/drops_filtered.yaml")

	var spawn *TraceEvent
	for i := range result.Trace {
		if result.Trace[i].Event == "spawn_entity" {
			spawn = &result.Trace[i]
		}
	}
	require.NotNil(t, spawn)
	assert.Equal(t, 1, spawn.Rejected)
	assert.False(t, spawn.Cancelled)
	assert.Equal(t, []string{"entity:item-1"}, spawn.Targets)
}

func TestRun_CatalogPrefix(t *testing.T) {
	result := runFile(t, "testdata/scenarios/redstone_catalog.yaml")

	require.Len(t, result.Steps, 2)
	assert.Equal(t, "redstone-0001", result.Steps[0].PhaseID)
	assert.Equal(t, "redstone-0002", result.Steps[1].PhaseID)
	assert.Equal(t, "empty", result.Steps[1].Outcome)
}

func TestRun_Deterministic(t *testing.T) {
	first := runFile(t, "testdata/scenarios/protected_rollback.yaml")
	second := runFile(t, "testdata/scenarios/protected_rollback.yaml")

	assert.Equal(t, first.Trace, second.Trace)
	assert.True(t, ir.Equal(first.State, second.State))
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	s := &Scenario{
		Name:        "mismatch",
		Description: "expects the wrong outcome",
		Flow: []Step{{
			Phase:   "block_tick",
			Actions: []Action{{SetBlock: &BlockAction{Pos: "0,64,0", Block: "stone"}}},
			Expect:  &ExpectClause{Outcome: "cancelled"},
		}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected outcome cancelled, got committed")
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	s := &Scenario{
		Name:        "missing_plugin",
		Description: "plugin_call without a plugin in context",
		Flow: []Step{{
			Phase:   "plugin_call",
			Actions: []Action{{SetBlock: &BlockAction{Pos: "0,64,0", Block: "stone"}}},
		}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected error")
	assert.Contains(t, result.Errors[0], `missing required context "plugin"`)
}

func TestRun_ExpectedBeginError(t *testing.T) {
	s := &Scenario{
		Name:        "missing_player",
		Description: "a click without a player never begins",
		Flow: []Step{{
			Click:   []string{"BUTTON_PRIMARY", "MODE_CLICK", "CLICK_INSIDE_WINDOW"},
			Context: map[string]any{"container": "chest"},
			Actions: []Action{{SetSlot: &SlotAction{Inventory: "chest", Index: 0, Item: ItemSpec{Type: "apple", Count: 1}}}},
			Expect:  &ExpectClause{Error: "player"},
		}},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Event: "click_container", Count: 0},
			{Type: AssertFinalState, Key: "slot:chest#0", Absent: true},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Steps, 1)
	assert.Empty(t, result.Steps[0].PhaseID)
}

func TestRun_UnknownPhase(t *testing.T) {
	s := &Scenario{
		Name:        "unknown",
		Description: "names a phase nobody registered",
		Flow: []Step{{
			Phase:   "moon_tick",
			Actions: []Action{{SetBlock: &BlockAction{Pos: "0,64,0", Block: "stone"}}},
		}},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown phase "moon_tick"`)
}

func mustRegistry(t *testing.T, dir string) *catalog.Registry {
	t.Helper()
	reg, err := LoadRegistry(dir)
	require.NoError(t, err)
	return reg
}

func TestBuildTask_IdleRejected(t *testing.T) {
	_, err := BuildTask(mustRegistry(t, ""), Step{
		Phase:   "idle",
		Actions: []Action{{SetBlock: &BlockAction{Pos: "0,64,0", Block: "stone"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle phase cannot be run")
}

func TestRun_UntrackedStep(t *testing.T) {
	s := &Scenario{
		Name:        "untracked",
		Description: "a step without a phase writes the world directly",
		Flow: []Step{{
			Actions: []Action{{SetBlock: &BlockAction{Pos: "3,3,3", Block: "glass"}}},
		}},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Event: "change_block", Count: 0},
			{Type: AssertFinalState, Key: "block:3,3,3", Expect: map[string]any{"state": map[string]any{"type": "glass"}}},
		},
	}

	result, err := RunContext(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace)
	assert.Equal(t, "idle", result.Steps[0].Name)
}

func TestRun_InvalidateKeepsOtherTransitions(t *testing.T) {
	s := &Scenario{
		Name:        "invalidate",
		Description: "a listener rejects the tnt transition only",
		Listeners: []ListenerSpec{
			{Name: "strip_tnt", Event: "change_block", Invalidate: "tnt"},
		},
		Flow: []Step{{
			Phase: "block_tick",
			Actions: []Action{
				{SetBlock: &BlockAction{Pos: "0,64,0", Block: "stone"}},
				{SetBlock: &BlockAction{Pos: "0,65,0", Block: "tnt"}},
			},
			Expect: &ExpectClause{Outcome: "committed"},
		}},
		Assertions: []Assertion{
			{Type: AssertFinalState, Key: "block:0,64,0", Expect: map[string]any{"state": map[string]any{"type": "stone"}}},
			{Type: AssertFinalState, Key: "block:0,65,0", Absent: true},
			{Type: AssertTraceContains, Event: "change_block", Payload: map[string]any{
				"transitions": []any{
					map[string]any{"final": "stone", "valid": true},
					map[string]any{"final": "tnt", "valid": false},
				},
			}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, 1, result.Trace[0].Rejected)
}

func TestRun_ListenerPhaseFilter(t *testing.T) {
	s := &Scenario{
		Name:        "phase_filter",
		Description: "a listener only vetoes entity ticks",
		Listeners: []ListenerSpec{
			{Name: "freeze_entities", Phase: "entity_tick", Cancel: true},
		},
		Flow: []Step{
			{Phase: "block_tick", Actions: []Action{{SetBlock: &BlockAction{Pos: "0,64,0", Block: "stone"}}}},
			{
				Phase:   "entity_tick",
				Context: map[string]any{"spawn_type": "natural"},
				Actions: []Action{{Spawn: &SpawnAction{ID: "zombie-1", Type: "zombie", Pos: "0,65,0"}}},
				Expect:  &ExpectClause{Outcome: "cancelled"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Key: "block:0,64,0", Expect: map[string]any{"state": map[string]any{"type": "stone"}}},
			{Type: AssertFinalState, Key: "entity:zombie-1", Absent: true},
			{Type: AssertTraceContains, Event: "spawn_entity", Cancelled: boolPtr(true), Payload: map[string]any{"spawn_type": "natural"}},
			{Type: AssertPhaseOutcome, Phase: "entity_tick", Outcome: "cancelled", Count: 1},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestLoadRegistry_Catalog(t *testing.T) {
	reg := mustRegistry(t, "testdata/catalog")

	def, ok := reg.Lookup("redstone_tick")
	require.True(t, ok)
	assert.Equal(t, ir.KindTick, def.Kind())

	_, ok = reg.Lookup("block_tick")
	assert.True(t, ok, "built-in phases stay registered")
}

func TestLoadRegistry_MissingDir(t *testing.T) {
	_, err := LoadRegistry("testdata/no_such_catalog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load catalog")
}
