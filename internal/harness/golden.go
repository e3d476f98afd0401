package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/guflow/internal/ir"
)

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Status       string       `json:"status,omitempty"`
	Trace        []TraceEntry `json:"trace"`
}

func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, e := range s.Trace {
		decisions := make([]any, len(e.Decisions))
		for j, d := range e.Decisions {
			decisions[j] = d
		}
		m := map[string]any{
			"step":             e.Step,
			"action":           e.Action,
			"started_event_id": e.StartedEventID,
			"decisions":        decisions,
		}
		if e.Error != "" {
			m["error"] = e.Error
		}
		trace[i] = m
	}
	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
	if s.Status != "" {
		out["status"] = s.Status
	}
	return out
}

// Snapshot renders a result as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	s := TraceSnapshot{ScenarioName: name, Status: result.Status, Trace: result.Trace}
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden runs a scenario and compares its trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	b, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, b)
	return nil
}
