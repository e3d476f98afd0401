package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/ir"
)

// Replay is the state of one decision task's replay, handed to handlers and
// When predicates.
//
// Item state is evaluated as of the event being interpreted: every old
// event, the records produced by this run's earlier decisions, and the new
// events up to and including the current one. Decisions already emitted in
// this task count as well, so an item scheduled earlier in the task is
// active. A Replay lives for exactly one task and is not safe for
// concurrent use.
type Replay struct {
	w   *Workflow
	log *slog.Logger

	now        time.Time
	workflowID string
	runID      string
	input      string
	completion string

	current   history.Event
	newEvents []history.Event

	refs    map[int64]target
	states  map[*Item]*itemState
	pending map[*Item]bool
	rv      *rendezvous

	// signalTimers holds the TimerStarted event id of each item's open
	// signal timer, or startedInTask for one started by this task.
	signalTimers map[*Item]int64
}

const startedInTask int64 = -1

// target is what an item event refers to.
type target struct {
	item  *Item
	kind  Kind
	id    string
	timer decision.TimerControl
}

type itemState struct {
	status     Status
	last       history.Event
	hasLast    bool
	childRunID string
}

func newReplay(w *Workflow, o options, newEvents []history.Event) *Replay {
	if w.hasCompletion {
		o.completion = w.completion
	}
	return &Replay{
		w:          w,
		log:        o.logger,
		workflowID: o.workflowID,
		runID:      o.runID,
		completion: o.completion,
		newEvents:  newEvents,
		refs:       make(map[int64]target),
		states:     make(map[*Item]*itemState),
		pending:    make(map[*Item]bool),
		rv:         newRendezvous(),

		signalTimers: make(map[*Item]int64),
	}
}

// Workflow returns the workflow being replayed.
func (r *Replay) Workflow() *Workflow { return r.w }

// Input returns the workflow input.
func (r *Replay) Input() string { return r.input }

// WorkflowID returns the run's workflow id.
func (r *Replay) WorkflowID() string { return r.workflowID }

// RunID returns the run id.
func (r *Replay) RunID() string { return r.runID }

// Now returns the decision task time.
func (r *Replay) Now() time.Time { return r.now }

// CurrentEvent returns the event being interpreted.
func (r *Replay) CurrentEvent() history.Event { return r.current }

// Item looks up an item by identity; nil if the workflow does not declare it.
func (r *Replay) Item(id ir.Identity) *Item {
	it, _ := r.w.Item(id)
	return it
}

// Status returns the item's lifecycle state.
func (r *Replay) Status(it *Item) Status {
	if it == nil {
		return StatusNotStarted
	}
	if r.pending[it] {
		return StatusActive
	}
	if st, ok := r.states[it]; ok {
		return st.status
	}
	return StatusNotStarted
}

// LastEvent returns the latest lifecycle event of the item.
func (r *Replay) LastEvent(it *Item) (history.Event, bool) {
	if st, ok := r.states[it]; ok && st.hasLast {
		return st.last, true
	}
	return history.Event{}, false
}

// Result returns the result of the item's latest completion.
func (r *Replay) Result(it *Item) string {
	if r.Status(it) != StatusCompleted {
		return ""
	}
	ev, _ := r.LastEvent(it)
	return ev.Result
}

// IsWaiting reports whether the item has an unresolved signal wait.
func (r *Replay) IsWaiting(it *Item) bool {
	return r.rv.earliestWaitingOf(it, "") != nil
}

// SignalReceived reports whether the item's latest signal wait received
// the named signal.
func (r *Replay) SignalReceived(it *Item, name string) bool {
	occ := r.rv.latestOf(it)
	return occ != nil && occ.hasReceived(ir.NormalizeName(name))
}

// SignalTimedOut reports whether the item's latest signal wait timed out
// while still waiting for the named signal.
func (r *Replay) SignalTimedOut(it *Item, name string) bool {
	occ := r.rv.latestOf(it)
	return occ != nil && occ.hasTimedOut(ir.NormalizeName(name))
}

// WaitingItems returns the items waiting for the named signal, in the
// order they started waiting.
func (r *Replay) WaitingItems(name string) []*Item {
	return r.rv.waitingItems(ir.NormalizeName(name))
}

func (r *Replay) state(it *Item) *itemState {
	st, ok := r.states[it]
	if !ok {
		st = &itemState{}
		r.states[it] = st
	}
	return st
}

// done reports whether a parent counts as finished for joining.
func (r *Replay) done(it *Item) bool {
	return r.Status(it).Terminal() && !r.IsWaiting(it)
}

func (r *Replay) outstanding(it *Item) bool {
	return r.Status(it) == StatusActive || r.IsWaiting(it)
}

func (r *Replay) hasOutstanding() bool {
	for _, it := range r.w.items {
		if r.outstanding(it) {
			return true
		}
	}
	return false
}

func (r *Replay) ready(it *Item) bool {
	if r.outstanding(it) {
		return false
	}
	for _, p := range it.parents {
		if !r.done(p) {
			return false
		}
	}
	return true
}

// scheduleReady schedules every ready item of candidates, completing the
// workflow when nothing is scheduled and nothing remains outstanding.
func (r *Replay) scheduleReady(candidates []*Item) ([]decision.Decision, error) {
	var out []decision.Decision
	scheduled := false
	for _, it := range candidates {
		if !r.ready(it) {
			continue
		}
		if it.when != nil && !it.when(r) {
			ev := r.itemEvent(r.current, it, OutcomeFalseWhen)
			a := Ignore()
			if h := it.handler(OutcomeFalseWhen); h != nil {
				a = orIgnore(h(ev))
			}
			ds, err := a.lower(r)
			if err != nil {
				return nil, err
			}
			out = append(out, ds...)
			continue
		}
		out = append(out, r.schedule(it)...)
		scheduled = true
	}
	if !scheduled && !r.hasOutstanding() {
		out = append(out, decision.CompleteWorkflow{Result: r.completion})
	}
	return out, nil
}

// schedule lowers the scheduling of one item. An item is scheduled at most
// once per task.
func (r *Replay) schedule(it *Item) []decision.Decision {
	if r.pending[it] {
		return nil
	}
	r.pending[it] = true
	sid := it.sid.String()
	switch it.kind {
	case KindActivity:
		return []decision.Decision{decision.ScheduleActivity{
			ActivityID:      sid,
			Name:            it.Name(),
			Version:         it.Version(),
			TaskList:        it.taskList,
			Input:           it.inputFor(r),
			Control:         it.control,
			ScheduleToClose: it.scheduleToClose,
			ScheduleToStart: it.scheduleToStart,
			StartToClose:    it.startToClose,
			Heartbeat:       it.heartbeat,
		}}
	case KindTimer:
		return []decision.Decision{decision.ScheduleTimer{
			TimerID: sid,
			Delay:   it.delay,
			Control: decision.TimerControl{TimerName: it.Name(), TimerType: decision.TimerItem},
		}}
	case KindLambda:
		return []decision.Decision{decision.ScheduleLambda{
			LambdaID:     sid,
			Name:         it.Name(),
			Input:        it.inputFor(r),
			StartToClose: it.startToClose,
		}}
	}
	return []decision.Decision{decision.StartChildWorkflow{
		WorkflowID:       r.childWorkflowID(it),
		Name:             it.Name(),
		Version:          it.Version(),
		TaskList:         it.taskList,
		Input:            it.inputFor(r),
		Control:          it.control,
		ChildPolicy:      it.childPolicy,
		ExecutionTimeout: it.executionTimeout,
		TaskTimeout:      it.taskTimeout,
	}}
}

// childWorkflowID scopes the child's schedule id by this run so that two
// runs of the parent never collide.
func (r *Replay) childWorkflowID(it *Item) string {
	if r.runID == "" {
		return it.sid.String()
	}
	return it.sid.Scoped(r.runID).String()
}

func (r *Replay) childRunID(it *Item) string {
	if st, ok := r.states[it]; ok {
		return st.childRunID
	}
	return ""
}

func (r *Replay) itemEvent(raw history.Event, it *Item, o Outcome) *ItemEvent {
	return &ItemEvent{eventBase: eventBase{raw: raw, r: r}, item: it, outcome: o}
}

// isDecisionEcho reports whether an event records the backend's handling
// of one of this run's own decisions. Such events logically happen when
// the decision was made, before any other new event of the task.
func isDecisionEcho(t history.EventType) bool {
	switch t {
	case history.DecisionTaskCompleted,
		history.ActivityTaskScheduled, history.ScheduleActivityTaskFailed,
		history.ActivityTaskCancelRequested, history.RequestCancelActivityTaskFailed,
		history.LambdaFunctionScheduled, history.ScheduleLambdaFunctionFailed,
		history.TimerStarted, history.StartTimerFailed,
		history.TimerCanceled, history.CancelTimerFailed,
		history.StartChildWorkflowExecutionInitiated,
		history.MarkerRecorded, history.RecordMarkerFailed,
		history.SignalExternalWorkflowExecutionInitiated,
		history.RequestCancelExternalWorkflowExecutionInitiated,
		history.CompleteWorkflowExecutionFailed,
		history.FailWorkflowExecutionFailed,
		history.CancelWorkflowExecutionFailed:
		return true
	}
	return false
}

// target resolves the item an event refers to. The item is nil when the
// workflow does not declare it.
func (r *Replay) target(e history.Event) (target, error) {
	switch e.Type {
	case history.ActivityTaskScheduled, history.ScheduleActivityTaskFailed,
		history.ActivityTaskCancelRequested, history.RequestCancelActivityTaskFailed:
		return r.byID(KindActivity, e.ActivityID), nil

	case history.LambdaFunctionScheduled, history.ScheduleLambdaFunctionFailed:
		return r.byID(KindLambda, e.LambdaID), nil

	case history.StartChildWorkflowExecutionInitiated:
		return r.byChildID(e.WorkflowID), nil

	case history.StartChildWorkflowExecutionFailed:
		if t, ok := r.refs[e.InitiatedEventID]; ok {
			return t, nil
		}
		return r.byChildID(e.WorkflowID), nil

	case history.TimerStarted:
		c, err := decision.ParseTimerControl(e.TimerID, e.Control)
		if err != nil {
			return target{}, &ReplayError{Code: ErrCodeMalformedHistory, Message: "bad timer control", EventID: e.ID, Err: err}
		}
		t := r.byID(KindTimer, e.TimerID)
		t.timer = c
		if c.TimerType == decision.TimerItem && t.item != nil && t.item.kind != KindTimer {
			t.item = nil
		}
		return t, nil

	case history.StartTimerFailed, history.CancelTimerFailed:
		return r.byID(KindTimer, e.TimerID), nil

	case history.ActivityTaskStarted, history.ActivityTaskCompleted, history.ActivityTaskFailed,
		history.ActivityTaskTimedOut, history.ActivityTaskCanceled,
		history.LambdaFunctionStarted, history.LambdaFunctionCompleted, history.LambdaFunctionFailed,
		history.LambdaFunctionTimedOut, history.StartLambdaFunctionFailed:
		return r.byRef(e, e.ScheduledEventID)

	case history.TimerFired, history.TimerCanceled:
		return r.byRef(e, e.StartedEventID)

	case history.ChildWorkflowExecutionStarted, history.ChildWorkflowExecutionCompleted,
		history.ChildWorkflowExecutionFailed, history.ChildWorkflowExecutionTimedOut,
		history.ChildWorkflowExecutionCanceled, history.ChildWorkflowExecutionTerminated:
		return r.byRef(e, e.InitiatedEventID)
	}
	return target{}, fmt.Errorf("event %s does not refer to an item", e)
}

// byID resolves a backend id. Timer ids may belong to any item kind since
// reschedule and signal timers reuse the schedule id of their item.
func (r *Replay) byID(kind Kind, id string) target {
	it := r.w.itemByScheduleID(ir.ScheduleIDFromString(id))
	if it != nil && kind != KindTimer && it.kind != kind {
		it = nil
	}
	return target{item: it, kind: kind, id: id}
}

func (r *Replay) byChildID(id string) target {
	it := r.w.itemByScheduleID(ir.ParseScopedScheduleID(id))
	if it != nil && it.kind != KindChildWorkflow {
		it = nil
	}
	return target{item: it, kind: KindChildWorkflow, id: id}
}

func (r *Replay) byRef(e history.Event, ref int64) (target, error) {
	t, ok := r.refs[ref]
	if !ok {
		return target{}, &ReplayError{
			Code:    ErrCodeMalformedHistory,
			Message: fmt.Sprintf("%s refers to unknown event %d", e.Type, ref),
			EventID: e.ID,
		}
	}
	return t, nil
}

// apply folds one event into the replay state without interpreting it.
func (r *Replay) apply(e history.Event) error {
	switch e.Type {
	case history.WorkflowExecutionStarted:
		r.input = e.Input
		return nil
	case history.MarkerRecorded:
		return r.applyMarker(e)
	}
	if !refersToItem(e.Type) {
		return nil
	}

	t, err := r.target(e)
	if err != nil {
		return err
	}
	if createsRef(e.Type) {
		r.refs[e.ID] = t
	}
	if t.item == nil {
		return nil
	}
	if t.timer.TimerType == decision.TimerSignal {
		r.trackSignalTimer(e, t.item)
	}

	status, changes := statusAfter(e, t)
	st := r.state(t.item)
	if e.Type == history.ChildWorkflowExecutionStarted {
		st.childRunID = e.RunID
	}
	if changes {
		st.status = status
		st.last = e
		st.hasLast = true
	}
	return nil
}

func refersToItem(t history.EventType) bool {
	if _, ok := itemOutcomes[t]; ok || createsRef(t) {
		return true
	}
	switch t {
	case history.ActivityTaskStarted, history.LambdaFunctionStarted,
		history.ChildWorkflowExecutionStarted, history.ActivityTaskCancelRequested:
		return true
	}
	return false
}

func createsRef(t history.EventType) bool {
	switch t {
	case history.ActivityTaskScheduled, history.LambdaFunctionScheduled,
		history.TimerStarted, history.StartChildWorkflowExecutionInitiated:
		return true
	}
	return false
}

// statusAfter returns the item status an event leads to. Signal timer
// events and cancellation bookkeeping leave the status unchanged.
func statusAfter(e history.Event, t target) (Status, bool) {
	switch e.Type {
	case history.ActivityTaskScheduled, history.ActivityTaskStarted,
		history.LambdaFunctionScheduled, history.LambdaFunctionStarted,
		history.StartChildWorkflowExecutionInitiated, history.ChildWorkflowExecutionStarted:
		return StatusActive, true

	case history.TimerStarted:
		return StatusActive, t.timer.TimerType != decision.TimerSignal

	case history.TimerFired:
		switch t.timer.TimerType {
		case decision.TimerItem:
			return StatusCompleted, true
		case decision.TimerReschedule:
			return StatusActive, true
		}
		return 0, false

	case history.TimerCanceled:
		return StatusCancelled, t.timer.TimerType != decision.TimerSignal

	case history.StartTimerFailed:
		return StatusFailed, t.item.kind == KindTimer

	case history.ActivityTaskCompleted, history.LambdaFunctionCompleted, history.ChildWorkflowExecutionCompleted:
		return StatusCompleted, true

	case history.ActivityTaskFailed, history.ScheduleActivityTaskFailed,
		history.LambdaFunctionFailed, history.ScheduleLambdaFunctionFailed, history.StartLambdaFunctionFailed,
		history.ChildWorkflowExecutionFailed, history.ChildWorkflowExecutionTerminated,
		history.StartChildWorkflowExecutionFailed:
		return StatusFailed, true

	case history.ActivityTaskTimedOut, history.LambdaFunctionTimedOut, history.ChildWorkflowExecutionTimedOut:
		return StatusTimedOut, true

	case history.ActivityTaskCanceled, history.ChildWorkflowExecutionCanceled:
		return StatusCancelled, true
	}
	return 0, false
}

func (r *Replay) applyMarker(e history.Event) error {
	bk, ok, err := decision.ParseMarker(e.MarkerName, e.Details)
	if err != nil {
		return &ReplayError{Code: ErrCodeMalformedMarker, Message: "cannot read marker", EventID: e.ID, Err: err}
	}
	if !ok {
		return nil
	}
	return r.rv.applyMarker(r.w, e.ID, bk)
}

func (r *Replay) trackSignalTimer(e history.Event, it *Item) {
	switch e.Type {
	case history.TimerStarted:
		r.signalTimers[it] = e.ID
	case history.TimerFired, history.TimerCanceled:
		if r.signalTimers[it] == e.StartedEventID {
			delete(r.signalTimers, it)
		}
	}
}

// openSignalTimer reports whether a signal timer of the item is still
// running when this task's decisions reach the backend. A timer that fires
// later in the task is closed by then.
func (r *Replay) openSignalTimer(it *Item) bool {
	started, ok := r.signalTimers[it]
	if !ok {
		return false
	}
	if started == startedInTask {
		return true
	}
	for _, e := range r.newEvents {
		if e.Type == history.TimerFired && e.StartedEventID == started {
			return false
		}
	}
	return true
}
