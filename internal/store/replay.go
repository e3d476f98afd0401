package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
)

// Decider computes the decision batch for a task. *engine.Engine satisfies
// it.
type Decider interface {
	Decide(task history.DecisionTask) ([]decision.Decision, error)
}

// Mismatch is a recorded task whose replay produced a different outcome.
type Mismatch struct {
	WorkflowID     string   `json:"workflow_id"`
	RunID          string   `json:"run_id"`
	StartedEventID int64    `json:"started_event_id"`
	Want           []string `json:"want"`
	Got            []string `json:"got"`
	WantErr        string   `json:"want_error,omitempty"`
	GotErr         string   `json:"got_error,omitempty"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s/%s task %d: recorded %d decisions (err %q), replayed %d (err %q)",
		m.WorkflowID, m.RunID, m.StartedEventID, len(m.Want), m.WantErr, len(m.Got), m.GotErr)
}

// VerifyTasks re-decides every record and reports those whose batch or
// error differs from what was recorded. Replaying the same history with
// the same definitions must reproduce the recorded batch exactly.
func VerifyTasks(records []TaskRecord, d Decider) ([]Mismatch, error) {
	var out []Mismatch
	for _, rec := range records {
		batch, decideErr := d.Decide(rec.Task())
		replayed, err := NewTaskRecord(rec.Task(), batch, decideErr, rec.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("verify task %d of %s/%s: %w", rec.StartedEventID, rec.WorkflowID, rec.RunID, err)
		}
		if replayed.DecisionsHash == rec.DecisionsHash && replayed.Error == rec.Error &&
			slices.Equal(replayed.Decisions, rec.Decisions) {
			continue
		}
		out = append(out, Mismatch{
			WorkflowID:     rec.WorkflowID,
			RunID:          rec.RunID,
			StartedEventID: rec.StartedEventID,
			Want:           rec.Decisions,
			Got:            replayed.Decisions,
			WantErr:        rec.Error,
			GotErr:         replayed.Error,
		})
	}
	return out, nil
}

// VerifyAll replays every run the reader holds.
func VerifyAll(ctx context.Context, r Reader, d Decider) ([]Mismatch, int, error) {
	runs, err := r.ListRuns(ctx)
	if err != nil {
		return nil, 0, err
	}
	var (
		out   []Mismatch
		tasks int
	)
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return nil, tasks, err
		}
		records, err := r.ReadTasks(ctx, run.WorkflowID, run.RunID)
		if err != nil {
			return nil, tasks, err
		}
		ms, err := VerifyTasks(records, d)
		if err != nil {
			return nil, tasks, err
		}
		tasks += len(records)
		out = append(out, ms...)
	}
	return out, tasks, nil
}
