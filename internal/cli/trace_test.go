package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrace_Text(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	recordShippingRun(t, workflowsDir(t), dbPath)

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--workflow-id", "order-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Run order-1/run-1 Shipping(1)")
	assert.Contains(t, out, "task 3 (events 1..3)")
	assert.Contains(t, out, "CompleteWorkflow")
	assert.Contains(t, out, "3 task(s), 3 decision(s), 0 aborted")
}

func TestTrace_DecisionFilterJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	recordShippingRun(t, workflowsDir(t), dbPath)

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "json"}),
		"--db", dbPath, "--workflow-id", "order-1", "--decision", "completeworkflow")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   []TraceRun `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	run := resp.Data[0]
	assert.Equal(t, 3, run.Stats.Tasks)
	assert.Equal(t, 1, run.Stats.Decisions)
	require.Len(t, run.Tasks[2].Decisions, 1)
	assert.Equal(t, "delivered", run.Tasks[2].Decisions[0]["result"])
}

func TestTrace_UnknownWorkflow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	recordShippingRun(t, workflowsDir(t), dbPath)

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--workflow-id", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no recorded runs for workflow nope")
}

func TestTrace_RequiresWorkflowID(t *testing.T) {
	_, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", "x.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
