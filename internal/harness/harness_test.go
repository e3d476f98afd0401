package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/ir"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_HappyPath(t *testing.T) {
	result, err := Run(loadTestScenario(t, "shipping_happy_path"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "WorkflowExecutionCompleted", result.Status)
	assert.Empty(t, result.Outstanding)
	require.Len(t, result.Trace, 3)
	assert.Equal(t, -1, result.Trace[0].Step)
	assert.Equal(t, "start", result.Trace[0].Action)
	assert.Equal(t, int64(3), result.Trace[0].StartedEventID)
}

func TestRun_Retry(t *testing.T) {
	result, err := Run(loadTestScenario(t, "shipping_retry"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Status)
	assert.Equal(t, []string{"activity:ship.1"}, result.Outstanding)
}

func TestRun_PackFailure(t *testing.T) {
	result, err := Run(loadTestScenario(t, "pack_failure"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "WorkflowExecutionFailed", result.Status)
}

func twoStep(t *testing.T) *engine.Workflow {
	t.Helper()
	b := engine.NewBuilder("Pipeline", "1")
	b.Activity("Fetch", "1", "")
	b.Activity("Store", "1", "").DependsOn(ir.NewIdentity("Fetch", "1", ""))
	w, err := b.Build()
	require.NoError(t, err)
	return w
}

func TestRunWorkflows_ExpectationMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:     "mismatch",
		Workflow: "Pipeline",
		Version:  "1",
		Start: StartStep{Expect: []map[string]any{
			{"type": "ScheduleActivity", "activity_id": "store.1"},
		}},
	}

	result, err := RunWorkflows(scenario, twoStep(t))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "start: decision 0")
}

func TestRunWorkflows_CountMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:     "count",
		Workflow: "Pipeline",
		Version:  "1",
		Steps: []Step{{
			Action: StepCompleteActivity,
			ID:     "fetch.1",
			Expect: []map[string]any{{"type": "ScheduleActivity"}, {"type": "ScheduleTimer"}},
		}},
	}

	result, err := RunWorkflows(scenario, twoStep(t))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected 2 decisions, got 1")
}

func TestRunWorkflows_UnknownTarget(t *testing.T) {
	scenario := &Scenario{
		Name:     "unknown",
		Workflow: "Pipeline",
		Version:  "1",
		Steps: []Step{
			{Action: StepCompleteActivity, ID: "nope.1"},
			{Action: StepCompleteActivity, ID: "fetch.1"},
		},
	}

	result, err := RunWorkflows(scenario, twoStep(t))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `activity "nope.1" is not scheduled`)
	assert.Len(t, result.Trace, 1, "later steps are not applied")
}

func TestRunWorkflows_HeldStepsShareATask(t *testing.T) {
	scenario := &Scenario{
		Name:     "held",
		Workflow: "Pipeline",
		Version:  "1",
		Steps: []Step{
			{Action: StepSignal, Name: "poke", Hold: true},
			{Action: StepCompleteActivity, ID: "fetch.1", Expect: []map[string]any{
				{"type": "ScheduleActivity", "activity_id": "store.1"},
			}},
		},
	}

	result, err := RunWorkflows(scenario, twoStep(t))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, 1, result.Trace[1].Step)
}

func TestRun_SignalTimeoutDropsLateSignal(t *testing.T) {
	result, err := Run(loadTestScenario(t, "approval_signal_timeout"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 6)
	late := result.Trace[4]
	assert.Equal(t, StepSignal, late.Action)
	assert.Empty(t, late.Decisions)
	assert.Empty(t, result.Outstanding)
}

func TestRun_AllSignalsLeaveTimerOpen(t *testing.T) {
	result, err := Run(loadTestScenario(t, "approval_all_signals"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	// The held signal shares the task of the signal after it.
	require.Len(t, result.Trace, 4)
	assert.Equal(t, 2, result.Trace[2].Step)
	assert.Equal(t, []string{"timer:review.1"}, result.Outstanding)
}

func TestRunWorkflows_UndeclaredWorkflow(t *testing.T) {
	_, err := RunWorkflows(&Scenario{Name: "x", Workflow: "Other", Version: "1"}, twoStep(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not declared")
}

func TestRun_BadWorkflowFile(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", Workflows: []string{"testdata/missing.cue"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load workflows")
}
