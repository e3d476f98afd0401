package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.cue"), []byte(`workflow: W: version: "1"`), 0o644))
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const scenarioHeader = `name: s
description: d
workflows: [w.cue]
workflow: W
version: "1"
`

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "shipping_retry.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "shipping_retry", s.Name)
	assert.Equal(t, []string{filepath.Join("testdata", "shipping.cue")}, s.Workflows)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, StepFailActivity, s.Steps[1].Action)
	assert.Equal(t, "CARRIER_DOWN", s.Steps[1].Reason)
	assert.Equal(t, "10s", s.Steps[2].Advance)
	require.Len(t, s.Assertions, 2)
	assert.Equal(t, []string{"activity:ship.1"}, s.Assertions[1].Outstanding)
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing name", "description: d\nworkflows: [w.cue]\nworkflow: W\nversion: \"1\"\n", "name is required"},
		{"missing workflows", "name: s\ndescription: d\nworkflow: W\nversion: \"1\"\n", "workflows list is required"},
		{"missing version", "name: s\ndescription: d\nworkflows: [w.cue]\nworkflow: W\n", "workflow and version are required"},
		{"missing file", "name: s\ndescription: d\nworkflows: [nope.cue]\nworkflow: W\nversion: \"1\"\n", "workflow file not found"},
		{"unknown field", scenarioHeader + "flow: []\n", "field flow not found"},
		{"unknown action", scenarioHeader + "steps: [{action: explode, id: x}]\n", `unknown action "explode"`},
		{"signal without name", scenarioHeader + "steps: [{action: signal}]\n", "name is required for signal"},
		{"activity without id", scenarioHeader + "steps: [{action: complete_activity}]\n", "id is required for complete_activity"},
		{"bad advance", scenarioHeader + "steps: [{action: fire_timer, id: t, advance: soon}]\n", "is not a non-negative duration"},
		{"held expectation", scenarioHeader + "steps: [{action: signal, name: x, hold: true, expect: [{type: CompleteWorkflow}]}]\n", "a held step has no task"},
		{"assertion without type", scenarioHeader + "assertions: [{count: 1}]\n", "type is required"},
		{"short order", scenarioHeader + "assertions: [{type: decision_order, decisions: [{type: X}]}]\n", "at least two decisions"},
		{"empty final state", scenarioHeader + "assertions: [{type: final_state}]\n", "status or outstanding is required"},
		{"unknown assertion", scenarioHeader + "assertions: [{type: trace_contains}]\n", "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, t.TempDir(), tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_CancelNeedsNoTarget(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, t.TempDir(), scenarioHeader+"steps: [{action: cancel, details: operator}]\n"))
	require.NoError(t, err)
	assert.Equal(t, "operator", s.Steps[0].Details)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestFindScenarios(t *testing.T) {
	paths, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "approval_all_signals.yaml"),
		filepath.Join("testdata", "scenarios", "approval_signal_timeout.yaml"),
		filepath.Join("testdata", "scenarios", "countersign_shared_signal.yaml"),
		filepath.Join("testdata", "scenarios", "pack_failure.yaml"),
		filepath.Join("testdata", "scenarios", "shipping_happy_path.yaml"),
		filepath.Join("testdata", "scenarios", "shipping_retry.yaml"),
	}, paths)

	one := filepath.Join("testdata", "scenarios", "pack_failure.yaml")
	paths, err = FindScenarios(one)
	require.NoError(t, err)
	assert.Equal(t, []string{one}, paths)

	_, err = FindScenarios(filepath.Join("testdata", "nowhere"))
	var nf *ScenarioNotFoundError
	require.ErrorAs(t, err, &nf)
}
