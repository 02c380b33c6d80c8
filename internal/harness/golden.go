package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/causeway/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	World        string       `json:"world"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// Zero-valued fields are left out so event and phase entries only carry their own fields.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, entry := range s.Trace {
		m := map[string]any{
			"type": entry.Type,
			"seq":  entry.Seq,
		}
		if entry.Phase != "" {
			m["phase"] = entry.Phase
		}
		if entry.Type == TraceKindEvent {
			m["event"] = entry.Event
			m["cancelled"] = entry.Cancelled
			if entry.Rejected > 0 {
				m["rejected"] = entry.Rejected
			}
			targets := make([]any, len(entry.Targets))
			for j, t := range entry.Targets {
				targets[j] = t
			}
			m["targets"] = targets
		} else {
			m["phase_id"] = entry.PhaseID
			m["outcome"] = entry.Outcome
			m["depth"] = entry.Depth
			m["began_seq"] = entry.BeganSeq
			m["ended_seq"] = entry.EndedSeq
			m["transactions"] = entry.Transactions
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"world":         s.World,
		"trace":         traceList,
	}
}

// Marshal returns the snapshot as canonical JSON.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass and Errors.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	world := scenario.World
	if world == "" {
		world = DefaultWorld
	}
	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		World:        world,
		Trace:        result.Trace,
	}
	if err := assertSnapshot(t, scenario.Name, &snapshot); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName, world string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		World:        world,
		Trace:        result.Trace,
	}
	return assertSnapshot(t, scenarioName, &snapshot)
}

func assertSnapshot(t *testing.T, name string, s *TraceSnapshot) error {
	t.Helper()

	traceJSON, err := s.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
	return nil
}
