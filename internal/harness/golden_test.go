package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_TntVeto(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/tnt_veto.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestTraceSnapshot_EntriesCarryOwnFields(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "s",
		World:        "w",
		Trace: []TraceEvent{
			{Type: TraceKindEvent, Seq: 1, Phase: "block_tick", Event: "change_block", Targets: []string{"block:0,0,0"}},
			{Type: TraceKindPhase, Seq: 2, Phase: "block_tick", PhaseID: "p-1", Outcome: "empty", Depth: 1, BeganSeq: 1, EndedSeq: 2},
		},
	}

	data, err := snap.Marshal()
	require.NoError(t, err)

	want := `{"scenario_name":"s","trace":[` +
		`{"cancelled":false,"event":"change_block","phase":"block_tick","seq":1,"targets":["block:0,0,0"],"type":"event"},` +
		`{"began_seq":1,"depth":1,"ended_seq":2,"outcome":"empty","phase":"block_tick","phase_id":"p-1","seq":2,"transactions":0,"type":"phase"}` +
		`],"world":"w"}`
	assert.Equal(t, want, string(data))
}

func TestTraceSnapshot_RejectedOnlyWhenSet(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "s",
		World:        "w",
		Trace: []TraceEvent{
			{Type: TraceKindEvent, Seq: 1, Event: "spawn_entity", Rejected: 2},
		},
	}

	data, err := snap.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"rejected":2`)
	assert.Contains(t, string(data), `"targets":[]`)
	assert.NotContains(t, string(data), `"phase"`)
}
