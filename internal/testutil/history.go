package testutil

import (
	"slices"
	"time"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
)

// History builds a run's event history for tests.
//
// Event ids are assigned in call order starting at 1, and every event is
// stamped with the builder's current time, which only moves on Advance.
// Methods return the id of the event they appended so that later events
// can refer to it.
type History struct {
	events []history.Event
	now    time.Time
}

// NewHistory starts an empty history at Epoch.
func NewHistory() *History {
	return &History{now: Epoch}
}

// Clone returns an independent copy, for branching a history in tests.
func (h *History) Clone() *History {
	return &History{events: slices.Clone(h.events), now: h.now}
}

// Advance moves the builder's time forward.
func (h *History) Advance(d time.Duration) *History {
	h.now = h.now.Add(d)
	return h
}

// Now returns the builder's current time.
func (h *History) Now() time.Time { return h.now }

// LastID returns the id of the newest event, or 0.
func (h *History) LastID() int64 { return int64(len(h.events)) }

// Add appends a raw event.
func (h *History) Add(t history.EventType, attrs history.Attributes) int64 {
	id := int64(len(h.events) + 1)
	h.events = append(h.events, history.Event{ID: id, Type: t, Timestamp: h.now, Attributes: attrs})
	return id
}

// Events returns the history newest first, as the backend delivers it.
func (h *History) Events() []history.Event {
	return history.NewestFirst(h.events)
}

// Task wraps the history into a decision task.
func (h *History) Task(workflowID, runID string, previousStarted int64) history.DecisionTask {
	return history.DecisionTask{
		TaskToken:              "token",
		WorkflowID:             workflowID,
		RunID:                  runID,
		Events:                 h.Events(),
		PreviousStartedEventID: previousStarted,
		StartedEventID:         h.LastID(),
	}
}

// WorkflowStarted appends the first event of a run.
func (h *History) WorkflowStarted(input string) int64 {
	return h.Add(history.WorkflowExecutionStarted, history.Attributes{Input: input})
}

// DecisionStarted appends a scheduled and started decision task and
// returns the started event id.
func (h *History) DecisionStarted() int64 {
	scheduled := h.Add(history.DecisionTaskScheduled, history.Attributes{})
	return h.Add(history.DecisionTaskStarted, history.Attributes{ScheduledEventID: scheduled})
}

// DecisionCompleted appends the completion of a decision task.
func (h *History) DecisionCompleted(started int64) int64 {
	return h.Add(history.DecisionTaskCompleted, history.Attributes{StartedEventID: started})
}

// ActivityScheduled appends the scheduling of an activity.
func (h *History) ActivityScheduled(activityID, name, version string) int64 {
	return h.Add(history.ActivityTaskScheduled, history.Attributes{
		ActivityID: activityID, ActivityName: name, ActivityVersion: version,
	})
}

// ScheduleActivityFailed appends a rejected activity scheduling.
func (h *History) ScheduleActivityFailed(activityID, cause string) int64 {
	return h.Add(history.ScheduleActivityTaskFailed, history.Attributes{ActivityID: activityID, Cause: cause})
}

// ActivityStarted appends the start of an activity.
func (h *History) ActivityStarted(scheduled int64) int64 {
	return h.Add(history.ActivityTaskStarted, history.Attributes{ScheduledEventID: scheduled})
}

// ActivityCompleted appends an activity completion.
func (h *History) ActivityCompleted(scheduled int64, result string) int64 {
	return h.Add(history.ActivityTaskCompleted, history.Attributes{ScheduledEventID: scheduled, Result: result})
}

// ActivityFailed appends an activity failure.
func (h *History) ActivityFailed(scheduled int64, reason, details string) int64 {
	return h.Add(history.ActivityTaskFailed, history.Attributes{ScheduledEventID: scheduled, Reason: reason, Details: details})
}

// ActivityTimedOut appends an activity timeout.
func (h *History) ActivityTimedOut(scheduled int64, timeoutType string) int64 {
	return h.Add(history.ActivityTaskTimedOut, history.Attributes{ScheduledEventID: scheduled, TimeoutType: timeoutType})
}

// ActivityCanceled appends an activity cancellation.
func (h *History) ActivityCanceled(scheduled int64, details string) int64 {
	return h.Add(history.ActivityTaskCanceled, history.Attributes{ScheduledEventID: scheduled, Details: details})
}

// CompletedActivity appends the scheduled, started and completed events of
// an activity and returns the completion event id.
func (h *History) CompletedActivity(activityID, name, version, result string) int64 {
	s := h.ActivityScheduled(activityID, name, version)
	h.ActivityStarted(s)
	return h.ActivityCompleted(s, result)
}

// LambdaScheduled appends the scheduling of a lambda function.
func (h *History) LambdaScheduled(lambdaID, name string) int64 {
	return h.Add(history.LambdaFunctionScheduled, history.Attributes{LambdaID: lambdaID, LambdaName: name})
}

// LambdaCompleted appends a lambda completion.
func (h *History) LambdaCompleted(scheduled int64, result string) int64 {
	return h.Add(history.LambdaFunctionCompleted, history.Attributes{ScheduledEventID: scheduled, Result: result})
}

// LambdaFailed appends a lambda failure.
func (h *History) LambdaFailed(scheduled int64, reason, details string) int64 {
	return h.Add(history.LambdaFunctionFailed, history.Attributes{ScheduledEventID: scheduled, Reason: reason, Details: details})
}

// TimerStarted appends the start of a timer carrying the given control.
func (h *History) TimerStarted(timerID string, delay time.Duration, control decision.TimerControl) int64 {
	c, err := control.Encode()
	if err != nil {
		panic(err)
	}
	return h.Add(history.TimerStarted, history.Attributes{
		TimerID:            timerID,
		StartToFireSeconds: int64(delay / time.Second),
		Control:            c,
	})
}

// TimerFired appends the firing of a started timer.
func (h *History) TimerFired(started int64, timerID string) int64 {
	return h.Add(history.TimerFired, history.Attributes{TimerID: timerID, StartedEventID: started})
}

// TimerCanceled appends the cancellation of a started timer.
func (h *History) TimerCanceled(started int64, timerID string) int64 {
	return h.Add(history.TimerCanceled, history.Attributes{TimerID: timerID, StartedEventID: started})
}

// StartTimerFailed appends a rejected timer start.
func (h *History) StartTimerFailed(timerID, cause string) int64 {
	return h.Add(history.StartTimerFailed, history.Attributes{TimerID: timerID, Cause: cause})
}

// ChildInitiated appends the initiation of a child workflow.
func (h *History) ChildInitiated(workflowID, name, version string) int64 {
	return h.Add(history.StartChildWorkflowExecutionInitiated, history.Attributes{
		WorkflowID: workflowID, WorkflowName: name, WorkflowVersion: version,
	})
}

// ChildStarted appends the start of a child run.
func (h *History) ChildStarted(initiated int64, workflowID, runID string) int64 {
	return h.Add(history.ChildWorkflowExecutionStarted, history.Attributes{
		InitiatedEventID: initiated, WorkflowID: workflowID, RunID: runID,
	})
}

// ChildCompleted appends a child completion.
func (h *History) ChildCompleted(initiated int64, result string) int64 {
	return h.Add(history.ChildWorkflowExecutionCompleted, history.Attributes{InitiatedEventID: initiated, Result: result})
}

// ChildFailed appends a child failure.
func (h *History) ChildFailed(initiated int64, reason, details string) int64 {
	return h.Add(history.ChildWorkflowExecutionFailed, history.Attributes{InitiatedEventID: initiated, Reason: reason, Details: details})
}

// ChildTerminated appends a child termination.
func (h *History) ChildTerminated(initiated int64) int64 {
	return h.Add(history.ChildWorkflowExecutionTerminated, history.Attributes{InitiatedEventID: initiated})
}

// Signal appends an external signal.
func (h *History) Signal(name, input string) int64 {
	return h.Add(history.WorkflowExecutionSignaled, history.Attributes{SignalName: name, Input: input})
}

// SignalFrom appends a signal sent by another workflow execution.
func (h *History) SignalFrom(name, input, workflowID, runID string) int64 {
	return h.Add(history.WorkflowExecutionSignaled, history.Attributes{
		SignalName: name, Input: input, ExternalWorkflowID: workflowID, ExternalRunID: runID,
	})
}

// Marker appends a recorded bookkeeping marker.
func (h *History) Marker(d decision.Bookkeeping) int64 {
	m, err := d.Marker()
	if err != nil {
		panic(err)
	}
	return h.RecordedMarker(m.Name, m.Details)
}

// RecordedMarker appends a recorded marker.
func (h *History) RecordedMarker(name, details string) int64 {
	return h.Add(history.MarkerRecorded, history.Attributes{MarkerName: name, Details: details})
}

// CancelRequested appends a cancellation request for the run.
func (h *History) CancelRequested(cause string) int64 {
	return h.Add(history.WorkflowExecutionCancelRequested, history.Attributes{Cause: cause})
}

// Failed appends a failed workflow-level decision such as RecordMarkerFailed.
func (h *History) Failed(t history.EventType, cause string) int64 {
	return h.Add(t, history.Attributes{Cause: cause})
}
