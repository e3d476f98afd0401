package engine

import (
	"time"

	"github.com/roach88/guflow/internal/decision"
)

// Action is what a handler asks the engine to do. Actions are immutable
// values; they lower to zero or more decisions against the replay state.
//
// Two actions are equal iff their fields are equal, so handlers can be
// tested by comparing returned actions.
type Action interface {
	lower(r *Replay) ([]decision.Decision, error)
}

// Fixed results of workflow completion.
const (
	// CompletedResult is the default result of a workflow whose items are
	// all done.
	CompletedResult = "Workflow is completed."

	// NoItemsResult is the result of a workflow that declares no root item.
	NoItemsResult = "Workflow completed as no schedulable item is found"
)

type ignoreAction struct{}

func (ignoreAction) lower(*Replay) ([]decision.Decision, error) { return nil, nil }

// Ignore returns the action that does nothing. It is the identity of
// Combine.
func Ignore() Action { return ignoreAction{} }

type compositeAction struct {
	actions []Action
}

func (a compositeAction) lower(r *Replay) ([]decision.Decision, error) {
	var out []decision.Decision
	for _, child := range a.actions {
		ds, err := child.lower(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, nil
}

// Combine concatenates actions in order. Nested combinations are flattened
// and Ignore (or nil) operands dropped, so Combine is associative and
// Combine(a, Ignore()) equals a.
func Combine(actions ...Action) Action {
	var flat []Action
	for _, a := range actions {
		switch a := a.(type) {
		case nil, ignoreAction:
		case compositeAction:
			flat = append(flat, a.actions...)
		default:
			flat = append(flat, a)
		}
	}
	switch len(flat) {
	case 0:
		return ignoreAction{}
	case 1:
		return flat[0]
	}
	return compositeAction{actions: flat}
}

func orIgnore(a Action) Action {
	if a == nil {
		return ignoreAction{}
	}
	return a
}

type scheduleAction struct {
	item *Item
}

// Schedule schedules the item now.
func Schedule(item *Item) Action { return scheduleAction{item: item} }

func (a scheduleAction) lower(r *Replay) ([]decision.Decision, error) {
	if a.item == nil {
		return nil, newInvalidActionError(r.current.ID, "schedule of an undeclared item")
	}
	return r.schedule(a.item), nil
}

// RescheduleAction schedules an item again, optionally after a delay.
type RescheduleAction struct {
	item  *Item
	after time.Duration
}

// Reschedule schedules the item again, even if it already ran.
func Reschedule(item *Item) RescheduleAction { return RescheduleAction{item: item} }

// After delays the rescheduling with a timer. When the timer fires the item
// itself is scheduled again, not its children.
func (a RescheduleAction) After(d time.Duration) RescheduleAction {
	a.after = d
	return a
}

func (a RescheduleAction) lower(r *Replay) ([]decision.Decision, error) {
	if a.item == nil {
		return nil, newInvalidActionError(r.current.ID, "reschedule of an undeclared item")
	}
	if a.after <= 0 {
		return r.schedule(a.item), nil
	}
	if r.pending[a.item] {
		return nil, nil
	}
	r.pending[a.item] = true
	var out []decision.Decision
	if r.openSignalTimer(a.item) {
		out = append(out, decision.CancelTimer{TimerID: a.item.sid.String()})
		delete(r.signalTimers, a.item)
	}
	return append(out, decision.ScheduleTimer{
		TimerID: a.item.sid.String(),
		Delay:   a.after,
		Control: decision.TimerControl{TimerName: a.item.Name(), TimerType: decision.TimerReschedule},
	}), nil
}

type cancelAction struct {
	item *Item
}

// Cancel requests cancellation of a running item. Lambdas cannot be
// cancelled; cancelling one does nothing.
func Cancel(item *Item) Action { return cancelAction{item: item} }

func (a cancelAction) lower(r *Replay) ([]decision.Decision, error) {
	if a.item == nil {
		return nil, newInvalidActionError(r.current.ID, "cancel of an undeclared item")
	}
	switch a.item.kind {
	case KindActivity:
		return []decision.Decision{decision.CancelActivity{ActivityID: a.item.sid.String()}}, nil
	case KindTimer:
		return []decision.Decision{decision.CancelTimer{TimerID: a.item.sid.String()}}, nil
	case KindChildWorkflow:
		return []decision.Decision{decision.CancelRequestWorkflow{
			WorkflowID: r.childWorkflowID(a.item),
			RunID:      r.childRunID(a.item),
		}}, nil
	}
	r.log.Warn("lambda items cannot be cancelled", "item", a.item.String())
	return nil, nil
}

type continueAction struct {
	item *Item
}

// Continue schedules the item's children whose parents are all done and
// whose When predicate holds. When nothing is scheduled and no item is
// still outstanding the workflow completes.
func Continue(item *Item) Action { return continueAction{item: item} }

func (a continueAction) lower(r *Replay) ([]decision.Decision, error) {
	if a.item == nil {
		return nil, newInvalidActionError(r.current.ID, "continue from an undeclared item")
	}
	return r.scheduleReady(a.item.children)
}

type startWorkflowAction struct{}

// StartWorkflow schedules every root item, or completes the workflow when
// it declares none.
func StartWorkflow() Action { return startWorkflowAction{} }

func (startWorkflowAction) lower(r *Replay) ([]decision.Decision, error) {
	if len(r.w.roots) == 0 {
		return []decision.Decision{decision.CompleteWorkflow{Result: NoItemsResult}}, nil
	}
	return r.scheduleReady(r.w.roots)
}

type completeAction struct {
	result string
}

// CompleteWorkflow closes the run successfully.
func CompleteWorkflow(result string) Action { return completeAction{result: result} }

func (a completeAction) lower(*Replay) ([]decision.Decision, error) {
	return []decision.Decision{decision.CompleteWorkflow{Result: a.result}}, nil
}

type failAction struct {
	reason  string
	details string
}

// FailWorkflow closes the run as failed.
func FailWorkflow(reason, details string) Action {
	return failAction{reason: reason, details: details}
}

func (a failAction) lower(*Replay) ([]decision.Decision, error) {
	return []decision.Decision{decision.FailWorkflow{Reason: a.reason, Details: a.details}}, nil
}

type cancelWorkflowAction struct {
	details string
}

// CancelWorkflow closes the run as cancelled.
func CancelWorkflow(details string) Action { return cancelWorkflowAction{details: details} }

func (a cancelWorkflowAction) lower(*Replay) ([]decision.Decision, error) {
	return []decision.Decision{decision.CancelWorkflow{Details: a.details}}, nil
}

type cancelRequestAction struct {
	workflowID string
	runID      string
}

// CancelWorkflowRequest asks another workflow execution to cancel.
func CancelWorkflowRequest(workflowID, runID string) Action {
	return cancelRequestAction{workflowID: workflowID, runID: runID}
}

func (a cancelRequestAction) lower(*Replay) ([]decision.Decision, error) {
	return []decision.Decision{decision.CancelRequestWorkflow{WorkflowID: a.workflowID, RunID: a.runID}}, nil
}

type markerAction struct {
	name    string
	details string
}

// RecordMarker records a user marker in the history.
func RecordMarker(name, details string) Action {
	return markerAction{name: name, details: details}
}

func (a markerAction) lower(r *Replay) ([]decision.Decision, error) {
	if decision.IsBookkeepingMarker(a.name) {
		return nil, newInvalidActionError(r.current.ID, "marker name %q is reserved", a.name)
	}
	return []decision.Decision{decision.RecordMarker{Name: a.name, Details: a.details}}, nil
}

// SignalBuilder picks the target of an outgoing signal.
type SignalBuilder struct {
	name  string
	input string
}

// Signal starts an outgoing signal; choose its target with ForWorkflow,
// ForChildWorkflow or ReplyTo.
func Signal(name, input string) SignalBuilder {
	return SignalBuilder{name: name, input: input}
}

type signalAction struct {
	name       string
	input      string
	workflowID string
	runID      string
	child      *Item
	reply      int64
}

// ForWorkflow signals an arbitrary workflow execution. An empty runID
// targets the current run of workflowID.
func (s SignalBuilder) ForWorkflow(workflowID, runID string) Action {
	return signalAction{name: s.name, input: s.input, workflowID: workflowID, runID: runID}
}

// ForChildWorkflow signals the run started for a child workflow item.
func (s SignalBuilder) ForChildWorkflow(item *Item) Action {
	return signalAction{name: s.name, input: s.input, child: item}
}

// ReplyTo signals the workflow execution that sent ev.
func (s SignalBuilder) ReplyTo(ev *SignalEvent) Action {
	return signalAction{
		name:       s.name,
		input:      s.input,
		workflowID: ev.raw.ExternalWorkflowID,
		runID:      ev.raw.ExternalRunID,
		reply:      ev.raw.ID,
	}
}

func (a signalAction) lower(r *Replay) ([]decision.Decision, error) {
	d := decision.SignalWorkflow{SignalName: a.name, Input: a.input, WorkflowID: a.workflowID, RunID: a.runID}
	if a.child != nil {
		if a.child.kind != KindChildWorkflow {
			return nil, newInvalidActionError(r.current.ID, "%s is not a child workflow", a.child)
		}
		d.WorkflowID = r.childWorkflowID(a.child)
		d.RunID = r.childRunID(a.child)
	}
	if d.WorkflowID == "" {
		if a.reply > 0 {
			return nil, newInvalidActionError(r.current.ID, "signal event %d has no external workflow to reply to", a.reply)
		}
		return nil, newInvalidActionError(r.current.ID, "signal %q has no target workflow", a.name)
	}
	return []decision.Decision{d}, nil
}
