package engine

import (
	"fmt"
	"time"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/ir"
)

// WorkflowEvent is a typed view of one history record.
//
// Each variant interprets itself into an Action. Support events (scheduled,
// started, decision task and marker records) are transparent: the replay
// folds them into its state but never interprets them.
type WorkflowEvent interface {
	ID() int64
	Raw() history.Event
	Interpret(r *Replay) (Action, error)
}

type eventBase struct {
	raw history.Event
	r   *Replay
}

// ID returns the history event id.
func (e eventBase) ID() int64 { return e.raw.ID }

// Raw returns the underlying history record.
func (e eventBase) Raw() history.Event { return e.raw }

// Replay returns the replay state as of this event.
func (e eventBase) Replay() *Replay { return e.r }

// Timestamp returns when the backend recorded the event.
func (e eventBase) Timestamp() time.Time { return e.raw.Timestamp }

// SupportEvent is a record that only feeds replay state.
type SupportEvent struct {
	eventBase
}

// Interpret fails: support events carry no decision of their own.
func (e *SupportEvent) Interpret(*Replay) (Action, error) {
	return nil, &ReplayError{
		Code:    ErrCodeNotInterpretable,
		Message: fmt.Sprintf("%s is not interpretable", e.raw.Type),
		EventID: e.raw.ID,
	}
}

// WorkflowStartedEvent is the first event of a run.
type WorkflowStartedEvent struct {
	eventBase
}

// Input returns the workflow input.
func (e *WorkflowStartedEvent) Input() string { return e.raw.Input }

func (e *WorkflowStartedEvent) Interpret(r *Replay) (Action, error) {
	if h := r.w.onStarted; h != nil {
		return orIgnore(h(e)), nil
	}
	return StartWorkflow(), nil
}

// ItemEvent reports an outcome of one workflow item: completion, failure,
// timeout, cancellation, a scheduling or cancellation failure, a
// termination, or the timeout of a signal wait.
type ItemEvent struct {
	eventBase
	item    *Item
	outcome Outcome
}

// Item returns the item the event concerns.
func (e *ItemEvent) Item() *Item { return e.item }

// Outcome returns what happened to the item.
func (e *ItemEvent) Outcome() Outcome { return e.outcome }

// Result returns the completion result.
func (e *ItemEvent) Result() string { return e.raw.Result }

// Reason returns the failure reason.
func (e *ItemEvent) Reason() string { return e.raw.Reason }

// Details returns the failure or cancellation details.
func (e *ItemEvent) Details() string { return e.raw.Details }

// Cause returns the backend's cause code for scheduling failures.
func (e *ItemEvent) Cause() string { return e.raw.Cause }

// TimeoutType returns which timeout expired.
func (e *ItemEvent) TimeoutType() string { return e.raw.TimeoutType }

// WaitForSignal waits for one signal after this event.
func (e *ItemEvent) WaitForSignal(name string) WaitForSignalsAction {
	return e.wait(decision.WaitAny, []string{name})
}

// WaitForAnySignal waits until the first of names arrives.
func (e *ItemEvent) WaitForAnySignal(names ...string) WaitForSignalsAction {
	return e.wait(decision.WaitAny, names)
}

// WaitForAllSignals waits until every one of names has arrived.
func (e *ItemEvent) WaitForAllSignals(names ...string) WaitForSignalsAction {
	return e.wait(decision.WaitAll, names)
}

func (e *ItemEvent) wait(t decision.WaitType, names []string) WaitForSignalsAction {
	return WaitForSignalsAction{
		item:     e.item,
		trigger:  e.raw,
		names:    decision.NormalizeSignalNames(names),
		waitType: t,
		next:     decision.NextContinue,
	}
}

func (e *ItemEvent) Interpret(*Replay) (Action, error) {
	if h := e.item.handler(e.outcome); h != nil {
		return orIgnore(h(e)), nil
	}
	return defaultItemAction(e), nil
}

func defaultItemAction(e *ItemEvent) Action {
	switch e.outcome {
	case OutcomeCompleted, OutcomeSignalsTimedout:
		return Continue(e.item)
	case OutcomeCancelled:
		return CancelWorkflow(firstNonEmpty(e.raw.Details, e.item.String()+" is cancelled"))
	case OutcomeFalseWhen:
		return Ignore()
	}
	return FailWorkflow(failureReason(e), firstNonEmpty(e.raw.Details, e.raw.Reason, e.raw.Cause, e.raw.TimeoutType))
}

// failureReason returns the machine-readable reason of a default
// FailWorkflow, e.g. ACTIVITY_FAILED or TIMER_START_FAILED.
func failureReason(e *ItemEvent) string {
	switch e.raw.Type {
	case history.StartTimerFailed:
		return "TIMER_START_FAILED"
	case history.CancelTimerFailed:
		return "TIMER_CANCELLATION_FAILED"
	}
	prefix := map[Kind]string{
		KindActivity:      "ACTIVITY",
		KindTimer:         "TIMER",
		KindLambda:        "LAMBDA",
		KindChildWorkflow: "CHILD_WORKFLOW",
	}[e.item.kind]
	switch e.outcome {
	case OutcomeFailed:
		return prefix + "_FAILED"
	case OutcomeTimedOut:
		return prefix + "_TIMEDOUT"
	case OutcomeSchedulingFailed:
		if e.item.kind == KindChildWorkflow {
			return prefix + "_START_FAILED"
		}
		return prefix + "_SCHEDULING_FAILED"
	case OutcomeCancellationFailed:
		return prefix + "_CANCELLATION_FAILED"
	case OutcomeTerminated:
		return prefix + "_TERMINATED"
	}
	return prefix + "_" + e.outcome.String()
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// RescheduleTimerEvent is the firing of a timer started by
// Reschedule(item).After(d).
type RescheduleTimerEvent struct {
	eventBase
	item *Item
}

// Item returns the item to schedule again.
func (e *RescheduleTimerEvent) Item() *Item { return e.item }

func (e *RescheduleTimerEvent) Interpret(*Replay) (Action, error) {
	return Schedule(e.item), nil
}

// SignalTimerEvent is the firing of the timer bounding a signal wait.
type SignalTimerEvent struct {
	eventBase
	item    *Item
	trigger int64
}

// Item returns the waiting item.
func (e *SignalTimerEvent) Item() *Item { return e.item }

// TriggerEventID identifies the wait occurrence the timer bounds.
func (e *SignalTimerEvent) TriggerEventID() int64 { return e.trigger }

func (e *SignalTimerEvent) Interpret(r *Replay) (Action, error) {
	occ := r.rv.get(e.item, e.trigger)
	if occ == nil || occ.state != occWaiting {
		r.log.Debug("signal timer for resolved wait ignored",
			"item", e.item.String(), "trigger_event_id", e.trigger, "event_id", e.raw.ID)
		return Ignore(), nil
	}
	return signalsTimedoutAction{occ: occ, fire: e.raw}, nil
}

// SignalEvent is an external signal delivered to this run.
type SignalEvent struct {
	eventBase
	name string
}

// Name returns the normalized signal name.
func (e *SignalEvent) Name() string { return e.name }

// Input returns the signal payload.
func (e *SignalEvent) Input() string { return e.raw.Input }

// ExternalWorkflowID returns the sender's workflow id, if the sender was a
// workflow.
func (e *SignalEvent) ExternalWorkflowID() string { return e.raw.ExternalWorkflowID }

// ExternalRunID returns the sender's run id.
func (e *SignalEvent) ExternalRunID() string { return e.raw.ExternalRunID }

// WaitingItems returns the items waiting for this signal, earliest wait
// first.
func (e *SignalEvent) WaitingItems() []*Item { return e.r.WaitingItems(e.name) }

// Resume resumes item with this signal. Lowering fails with a signal resume
// error if item is not waiting for it.
func (e *SignalEvent) Resume(item *Item) Action {
	return resumeAction{item: item, name: e.name, signalID: e.raw.ID}
}

func (e *SignalEvent) Interpret(r *Replay) (Action, error) {
	if h, ok := r.w.onSignal[e.name]; ok {
		return orIgnore(h(e)), nil
	}
	return deliverSignalAction{name: e.name, signalID: e.raw.ID}, nil
}

// CancelRequestedEvent is a request to cancel this run.
type CancelRequestedEvent struct {
	eventBase
}

// Cause returns the backend's cause code.
func (e *CancelRequestedEvent) Cause() string { return e.raw.Cause }

// ExternalWorkflowID returns the requesting workflow, if any.
func (e *CancelRequestedEvent) ExternalWorkflowID() string { return e.raw.ExternalWorkflowID }

func (e *CancelRequestedEvent) Interpret(r *Replay) (Action, error) {
	if h := r.w.onCancelRequested; h != nil {
		return orIgnore(h(e)), nil
	}
	return CancelWorkflow(firstNonEmpty(e.raw.Cause, "cancellation requested")), nil
}

// WorkflowFailureEvent is a failed workflow-level decision: a marker, an
// outgoing signal or cancel request, or a close decision.
type WorkflowFailureEvent struct {
	eventBase
}

// Cause returns the backend's cause code.
func (e *WorkflowFailureEvent) Cause() string { return e.raw.Cause }

func (e *WorkflowFailureEvent) Interpret(r *Replay) (Action, error) {
	if h, ok := r.w.onFailure[e.raw.Type]; ok {
		return orIgnore(h(e)), nil
	}
	reason := map[history.EventType]string{
		history.RecordMarkerFailed:                           "RECORD_MARKER_FAILED",
		history.SignalExternalWorkflowExecutionFailed:        "SIGNAL_WORKFLOW_FAILED",
		history.RequestCancelExternalWorkflowExecutionFailed: "CANCEL_REQUEST_WORKFLOW_FAILED",
		history.CompleteWorkflowExecutionFailed:              "COMPLETE_WORKFLOW_FAILED",
		history.FailWorkflowExecutionFailed:                  "FAIL_WORKFLOW_FAILED",
		history.CancelWorkflowExecutionFailed:                "CANCEL_WORKFLOW_FAILED",
	}[e.raw.Type]
	return FailWorkflow(reason, e.raw.Cause), nil
}

// workflowEvent classifies a raw event as of the current replay state.
func (r *Replay) workflowEvent(e history.Event) (WorkflowEvent, error) {
	base := eventBase{raw: e, r: r}
	switch e.Type {
	case history.WorkflowExecutionStarted:
		return &WorkflowStartedEvent{eventBase: base}, nil
	case history.WorkflowExecutionSignaled:
		return &SignalEvent{eventBase: base, name: ir.NormalizeName(e.SignalName)}, nil
	case history.WorkflowExecutionCancelRequested:
		return &CancelRequestedEvent{eventBase: base}, nil
	case history.RecordMarkerFailed,
		history.SignalExternalWorkflowExecutionFailed,
		history.RequestCancelExternalWorkflowExecutionFailed,
		history.CompleteWorkflowExecutionFailed,
		history.FailWorkflowExecutionFailed,
		history.CancelWorkflowExecutionFailed:
		return &WorkflowFailureEvent{eventBase: base}, nil
	}

	outcome, ok := itemOutcomes[e.Type]
	if !ok {
		return &SupportEvent{eventBase: base}, nil
	}
	t, err := r.target(e)
	if err != nil {
		return nil, err
	}
	if t.item == nil {
		return nil, newIncompatibleError(e.ID, "%s %q is not declared by workflow %s(%s)",
			t.kind, t.id, r.w.name, r.w.version)
	}

	if e.Type == history.TimerFired || e.Type == history.TimerCanceled {
		switch t.timer.TimerType {
		case decision.TimerSignal:
			if e.Type == history.TimerCanceled {
				return &SupportEvent{eventBase: base}, nil
			}
			return &SignalTimerEvent{eventBase: base, item: t.item, trigger: t.timer.TriggerEventID}, nil
		case decision.TimerReschedule:
			if e.Type == history.TimerFired {
				return &RescheduleTimerEvent{eventBase: base, item: t.item}, nil
			}
		}
	}
	return &ItemEvent{eventBase: base, item: t.item, outcome: outcome}, nil
}

// itemOutcomes maps interpretable item events to their outcome. TimerFired
// and TimerCanceled are refined by the timer's control payload.
var itemOutcomes = map[history.EventType]Outcome{
	history.ActivityTaskCompleted:           OutcomeCompleted,
	history.ActivityTaskFailed:              OutcomeFailed,
	history.ActivityTaskTimedOut:            OutcomeTimedOut,
	history.ActivityTaskCanceled:            OutcomeCancelled,
	history.ScheduleActivityTaskFailed:      OutcomeSchedulingFailed,
	history.RequestCancelActivityTaskFailed: OutcomeCancellationFailed,

	history.LambdaFunctionCompleted:      OutcomeCompleted,
	history.LambdaFunctionFailed:         OutcomeFailed,
	history.LambdaFunctionTimedOut:       OutcomeTimedOut,
	history.ScheduleLambdaFunctionFailed: OutcomeSchedulingFailed,
	history.StartLambdaFunctionFailed:    OutcomeSchedulingFailed,

	history.TimerFired:        OutcomeCompleted,
	history.TimerCanceled:     OutcomeCancelled,
	history.StartTimerFailed:  OutcomeSchedulingFailed,
	history.CancelTimerFailed: OutcomeCancellationFailed,

	history.ChildWorkflowExecutionCompleted:   OutcomeCompleted,
	history.ChildWorkflowExecutionFailed:      OutcomeFailed,
	history.ChildWorkflowExecutionTimedOut:    OutcomeTimedOut,
	history.ChildWorkflowExecutionCanceled:    OutcomeCancelled,
	history.ChildWorkflowExecutionTerminated:  OutcomeTerminated,
	history.StartChildWorkflowExecutionFailed: OutcomeSchedulingFailed,
}
