package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedJournal runs the tnt_veto scenario into a fresh journal: tick-1
// commits with call-1 nested inside it, tick-2 is cancelled.
func seedJournal(t *testing.T) string {
	t.Helper()
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "world.db")
	_, err := executeRun(t, &RunOptions{RootOptions: &RootOptions{Format: "text"}, IDs: vetoIDs()},
		"--db", db, "testdata/scenarios/tnt_veto.yaml")
	require.NoError(t, err)
	return db
}

func executeTrace(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTrace_Tree(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", db)
	require.NoError(t, err)

	assert.Contains(t, out, "[1-4] block_tick tick-1 committed")
	assert.Contains(t, out, "\n  [2-3] plugin_call call-1 committed")
	assert.Contains(t, out, "[5-6] block_tick tick-2 cancelled")
}

func TestTrace_TreeJSON(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "json"}, "--db", db)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	tree := resp.Data.Tree
	require.Len(t, tree, 2)
	assert.Equal(t, "tick-1", tree[0].ID)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "call-1", tree[0].Children[0].ID)
	assert.Equal(t, "tick-1", tree[0].Children[0].ParentID)
	assert.Equal(t, 2, tree[0].Children[0].Depth)
	assert.Equal(t, "tick-2", tree[1].ID)
	assert.Empty(t, tree[1].Children)
}

func TestTrace_PhaseDetail(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "text", Verbose: true}, "--db", db, "--phase", "tick-2")
	require.NoError(t, err)

	assert.Contains(t, out, "Phase tick-2 (block_tick, tick)")
	assert.Contains(t, out, "Outcome: cancelled  seq 5-6  depth 1")
	assert.Contains(t, out, "=== Cause ===")
	assert.Contains(t, out, "block:0,66,0 (restored)")
	assert.Contains(t, out, "change_block (cancelled)")
	assert.Contains(t, out, "original:")
}

func TestTrace_PhaseDetailJSON(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "json"}, "--db", db, "--phase", "tick-1")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Data.Detail)

	d := resp.Data.Detail
	assert.Equal(t, "tick-1", d.Phase.ID)
	assert.NotEmpty(t, d.Causes)
	assert.NotEmpty(t, d.Transactions)
	require.Len(t, d.Children, 1)
	assert.Equal(t, "call-1", d.Children[0].ID)
}

func TestTrace_PhaseNotFound(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", db, "--phase", "tick-9")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "phase not found: tick-9")
}

func TestTrace_TargetHistory(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", db, "--target", "block:0,66,0")
	require.NoError(t, err)
	assert.Contains(t, out, "History of block:0,66,0")
	assert.Contains(t, out, "tick-2")
	assert.Contains(t, out, "(restored)")
	assert.NotContains(t, out, "tick-1")

	out, err = executeTrace(t, &RootOptions{Format: "text"}, "--db", db, "--target", "block:9,9,9")
	require.NoError(t, err)
	assert.Contains(t, out, "No transactions touched block:9,9,9")
}

func TestTrace_ByOutcome(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", db, "--outcome", "committed")
	require.NoError(t, err)
	assert.Contains(t, out, "tick-1")
	assert.Contains(t, out, "call-1")
	assert.NotContains(t, out, "tick-2")

	out, err = executeTrace(t, &RootOptions{Format: "text"}, "--db", db, "--outcome", "rolled_back_partial")
	require.NoError(t, err)
	assert.Contains(t, out, "No rolled_back_partial phases")
}

func TestTrace_UnknownOutcome(t *testing.T) {
	db := seedJournal(t)

	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", db, "--outcome", "exploded")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown outcome "exploded"`)
}

func TestTrace_FiltersAreExclusive(t *testing.T) {
	db := seedJournal(t)

	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", db, "--phase", "tick-1", "--outcome", "committed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestTrace_EmptyJournal(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "empty.db")

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Journal is empty")
}

func TestTrace_RequiresDatabase(t *testing.T) {
	isolateEnv(t)

	_, err := executeTrace(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--db is required")
}
