package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/ir"
)

// TaskRecord is one processed decision task: the history the engine saw and
// the batch it produced (or the error that aborted the task).
type TaskRecord struct {
	WorkflowID      string `json:"workflow_id"`
	RunID           string `json:"run_id"`
	WorkflowName    string `json:"workflow_name"`
	WorkflowVersion string `json:"workflow_version"`

	PreviousStartedEventID int64 `json:"previous_started_event_id"`
	StartedEventID         int64 `json:"started_event_id"`

	// Events is the history up to StartedEventID, newest-first. Stores
	// keep events once per run, so Events is not part of the encoded task.
	Events []history.Event `json:"-"`

	// Decisions holds the canonical JSON of each decision in emission
	// order.
	Decisions     []string `json:"decisions"`
	DecisionsHash string   `json:"decisions_hash"`

	// Error is the abort error of a task that produced no decisions.
	Error string `json:"error,omitempty"`

	EngineVersion string    `json:"engine_version"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// NewTaskRecord captures a decided task. decideErr is the error returned by
// the engine, if any; the batch is ignored when it is set.
func NewTaskRecord(task history.DecisionTask, batch []decision.Decision, decideErr error, at time.Time) (TaskRecord, error) {
	rec := TaskRecord{
		WorkflowID:             task.WorkflowID,
		RunID:                  task.RunID,
		WorkflowName:           task.WorkflowName,
		WorkflowVersion:        task.WorkflowVersion,
		PreviousStartedEventID: task.PreviousStartedEventID,
		StartedEventID:         task.StartedEventID,
		Events:                 task.Events,
		EngineVersion:          ir.EngineVersion,
		RecordedAt:             at.UTC(),
	}
	if decideErr != nil {
		rec.Error = decideErr.Error()
		batch = nil
	}
	lines, hash, err := canonicalBatch(batch)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("new task record: %w", err)
	}
	rec.Decisions = lines
	rec.DecisionsHash = hash
	return rec, nil
}

// Task rebuilds the decision task the record was made from. The task token
// is not recorded.
func (r TaskRecord) Task() history.DecisionTask {
	return history.DecisionTask{
		WorkflowID:             r.WorkflowID,
		RunID:                  r.RunID,
		WorkflowName:           r.WorkflowName,
		WorkflowVersion:        r.WorkflowVersion,
		Events:                 r.Events,
		PreviousStartedEventID: r.PreviousStartedEventID,
		StartedEventID:         r.StartedEventID,
	}
}

func canonicalBatch(batch []decision.Decision) ([]string, string, error) {
	lines := make([]string, 0, len(batch))
	for _, d := range batch {
		b, err := ir.MarshalCanonical(d.Canonical())
		if err != nil {
			return nil, "", fmt.Errorf("marshal %s: %w", d.Type(), err)
		}
		lines = append(lines, string(b))
	}
	hash, err := ir.DecisionsHash(decision.Canonicals(batch))
	if err != nil {
		return nil, "", err
	}
	return lines, hash, nil
}

// RunRef identifies a recorded run.
type RunRef struct {
	WorkflowID      string `json:"workflow_id"`
	RunID           string `json:"run_id"`
	WorkflowName    string `json:"workflow_name"`
	WorkflowVersion string `json:"workflow_version"`
	Tasks           int    `json:"tasks"`
}

// Recorder persists processed decision tasks. Recording the same task
// (same run and StartedEventID) twice is a no-op.
type Recorder interface {
	RecordTask(ctx context.Context, rec TaskRecord) error
}

// Reader reads recorded runs back for offline replay.
type Reader interface {
	// ListRuns returns every recorded run ordered by workflow id, run id.
	ListRuns(ctx context.Context) ([]RunRef, error)

	// ReadTasks returns the recorded tasks of a run in history order, each
	// with its history populated.
	ReadTasks(ctx context.Context, workflowID, runID string) ([]TaskRecord, error)
}
