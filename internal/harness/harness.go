package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/guflow/internal/backend"
	"github.com/roach88/guflow/internal/compiler"
	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/testutil"
)

// maxTasksPerStep bounds the tasks decided after one step. A workflow that
// keeps scheduling decisions for itself would otherwise never settle.
const maxTasksPerStep = 32

// Harness runs one scenario against the in-memory backend with a stopped
// clock and sequential ids, so the same scenario always yields the same
// trace.
type Harness struct {
	backend *backend.Memory
	engine  *engine.Engine
	clock   *testutil.Clock
	logger  *slog.Logger
	runID   string
}

// Run executes a scenario and returns its result. The error is reserved
// for scenarios that cannot run at all; failed expectations are reported
// in the result.
func Run(scenario *Scenario) (*Result, error) {
	v, err := compiler.LoadFiles(scenario.Workflows...)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	ws, errs := compiler.Workflows(v)
	if len(errs) > 0 {
		return nil, fmt.Errorf("compile workflows: %w", errs[0])
	}
	return RunWorkflows(scenario, ws...)
}

// RunWorkflows executes a scenario against already built workflows.
func RunWorkflows(scenario *Scenario, ws ...*engine.Workflow) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewClock(time.Time{})
	eng := engine.New(engine.WithLogger(logger), engine.WithClock(clock))
	if err := eng.Register(ws...); err != nil {
		return nil, err
	}
	if _, ok := eng.Lookup(scenario.Workflow, scenario.Version); !ok {
		return nil, fmt.Errorf("workflow %s(%s) is not declared", scenario.Workflow, scenario.Version)
	}

	h := &Harness{
		backend: backend.NewMemory(
			backend.WithIDs(testutil.NewSequenceGenerator("id")),
			backend.WithNow(clock.Now),
			backend.WithMemoryLogger(logger),
			backend.WithPollTimeout(10*time.Millisecond),
		),
		engine: eng,
		clock:  clock,
		logger: logger,
	}
	defer h.backend.Close()

	workflowID := scenario.WorkflowID
	if workflowID == "" {
		workflowID = "wf-1"
	}
	runID, err := h.backend.StartRun(workflowID, scenario.Workflow, scenario.Version, scenario.Start.Input)
	if err != nil {
		return nil, err
	}
	h.runID = runID

	result := NewResult()
	ctx := context.Background()

	entries, err := h.decidePending(ctx, -1, "start")
	if err != nil {
		return nil, err
	}
	result.Trace = append(result.Trace, entries...)
	checkStep(result, "start", entries, scenario.Start.Expect, "")

	for i, step := range scenario.Steps {
		if aborted(entries) {
			result.AddError(fmt.Sprintf("steps[%d]: run stopped after an aborted task", i))
			break
		}
		if err := h.apply(step); err != nil {
			result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Action, err))
			break
		}
		if step.Hold {
			continue
		}
		entries, err = h.decidePending(ctx, i, step.Action)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		result.Trace = append(result.Trace, entries...)
		checkStep(result, fmt.Sprintf("steps[%d] %s", i, step.Action), entries, step.Expect, step.ExpectError)
	}

	result.Status = string(h.backend.CloseStatus(runID))
	result.Outstanding = h.backend.Outstanding(runID)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// apply delivers one step's event to the backend.
func (h *Harness) apply(step Step) error {
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
	}
	m, run := h.backend, h.runID
	switch step.Action {
	case StepCompleteActivity:
		return m.CompleteActivity(run, step.ID, step.Result)
	case StepFailActivity:
		return m.FailActivity(run, step.ID, step.Reason, step.Details)
	case StepTimeoutActivity:
		timeoutType := step.TimeoutType
		if timeoutType == "" {
			timeoutType = "START_TO_CLOSE"
		}
		return m.TimeOutActivity(run, step.ID, timeoutType)
	case StepCompleteLambda:
		return m.CompleteLambda(run, step.ID, step.Result)
	case StepFailLambda:
		return m.FailLambda(run, step.ID, step.Reason, step.Details)
	case StepCompleteChild:
		return m.CompleteChild(run, step.ID, step.Result)
	case StepFailChild:
		return m.FailChild(run, step.ID, step.Reason, step.Details)
	case StepFireTimer:
		return m.FireTimer(run, step.ID)
	case StepSignal:
		return m.Signal(run, step.Name, step.Input)
	case StepCancel:
		return m.RequestCancel(run, step.Details)
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

// decidePending decides tasks until none is pending or a task aborts.
func (h *Harness) decidePending(ctx context.Context, step int, action string) ([]TraceEntry, error) {
	var out []TraceEntry
	for n := 0; h.backend.PendingTasks() > 0; n++ {
		if n == maxTasksPerStep {
			return nil, fmt.Errorf("more than %d decision tasks after %s", maxTasksPerStep, action)
		}
		task, err := h.backend.PollForDecisionTask(ctx)
		if err != nil {
			return nil, err
		}
		if task == nil {
			break
		}
		entry := TraceEntry{Step: step, Action: action, StartedEventID: task.StartedEventID, Decisions: []map[string]any{}}

		batch, err := h.engine.Decide(*task)
		if err != nil {
			entry.Error = err.Error()
			out = append(out, entry)
			h.logger.Info("scenario task aborted", "step", step, "error", err)
			return out, nil
		}
		for _, c := range decision.Canonicals(batch) {
			entry.Decisions = append(entry.Decisions, c.(map[string]any))
		}
		out = append(out, entry)

		if err := h.backend.RespondWithDecisions(ctx, task.TaskToken, batch); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func aborted(entries []TraceEntry) bool {
	return len(entries) > 0 && entries[len(entries)-1].Error != ""
}

// checkStep compares a step's tasks with its expectations.
func checkStep(result *Result, label string, entries []TraceEntry, expect []map[string]any, expectError string) {
	var got []map[string]any
	var abortErr string
	for _, e := range entries {
		got = append(got, e.Decisions...)
		if e.Error != "" {
			abortErr = e.Error
		}
	}

	switch {
	case expectError != "" && abortErr == "":
		result.AddError(fmt.Sprintf("%s: expected the task to abort with %q", label, expectError))
		return
	case expectError != "":
		if !containsFold(abortErr, expectError) {
			result.AddError(fmt.Sprintf("%s: abort error %q does not mention %q", label, abortErr, expectError))
		}
		return
	case abortErr != "":
		result.AddError(fmt.Sprintf("%s: task aborted: %s", label, abortErr))
		return
	}

	if expect == nil {
		return
	}
	if len(got) != len(expect) {
		result.AddError(fmt.Sprintf("%s: expected %d decisions, got %d: %s", label, len(expect), len(got), describe(got)))
		return
	}
	for i := range expect {
		if !matchDecision(got[i], expect[i]) {
			result.AddError(fmt.Sprintf("%s: decision %d: expected %v, got %s", label, i, expect[i], describe(got[i:i+1])))
		}
	}
}
