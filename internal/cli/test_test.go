package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTest_AllPass(t *testing.T) {
	out, err := executeTest(t, "text", "testdata/scenarios")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ testdata/scenarios/redstone.yaml")
	assert.Contains(t, out, "✓ testdata/scenarios/tnt_veto.yaml")
	assert.Contains(t, out, "Results: 2 passed, 0 failed, 2 total")
}

func TestTest_SingleFile(t *testing.T) {
	out, err := executeTest(t, "text", "testdata/scenarios/tnt_veto.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Results: 1 passed, 0 failed, 1 total")
}

func TestTest_Failures(t *testing.T) {
	out, err := executeTest(t, "text", "testdata/failing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 scenario(s) failed")

	assert.Contains(t, out, "✗ testdata/failing/plugin_error.yaml")
	assert.Contains(t, out, "brush exploded")
	assert.Contains(t, out, "✗ testdata/failing/wrong_outcome.yaml")
	assert.Contains(t, out, "expected outcome committed, got cancelled")
	assert.Contains(t, out, "Results: 0 passed, 2 failed, 2 total")
}

func TestTest_FailuresJSON(t *testing.T) {
	out, err := executeTest(t, "json", "testdata/failing")
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "plugin_error", resp.Data.Scenarios[0].Name)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTest_Filter(t *testing.T) {
	out, err := executeTest(t, "text", "testdata/scenarios", "--filter", "tnt_*")
	require.NoError(t, err)
	assert.Contains(t, out, "tnt_veto.yaml")
	assert.NotContains(t, out, "redstone.yaml")
	assert.Contains(t, out, "Results: 1 passed, 0 failed, 1 total")
}

func TestTest_FilterMatchesNothing(t *testing.T) {
	out, err := executeTest(t, "json", "testdata/scenarios", "--filter", "zzz*")
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 0, resp.Data.Total)
	assert.Empty(t, resp.Data.Scenarios)
}

func TestTest_BadFilter(t *testing.T) {
	_, err := executeTest(t, "text", "testdata/scenarios", "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestTest_MissingPath(t *testing.T) {
	_, err := executeTest(t, "text", "testdata/nowhere")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "a", firstLine("a\nb\nc"))
	assert.Equal(t, "single", firstLine("single"))
}
