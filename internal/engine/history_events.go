package engine

import (
	"time"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
)

// WorkflowHistoryEvents is a run's history split into the events already
// handled by earlier decision tasks and the events new to this task.
type WorkflowHistoryEvents struct {
	events                 []history.Event
	previousStartedEventID int64
	opts                   options
}

// NewWorkflowHistoryEvents wraps a history delivered newest-first. Events
// with an id above previousStartedEventID are new to this task.
func NewWorkflowHistoryEvents(events []history.Event, previousStartedEventID int64, opts ...Option) *WorkflowHistoryEvents {
	return &WorkflowHistoryEvents{
		events:                 history.OldestFirst(events),
		previousStartedEventID: previousStartedEventID,
		opts:                   newOptions(opts),
	}
}

// FromDecisionTask wraps the history of a decision task.
func FromDecisionTask(task history.DecisionTask, opts ...Option) *WorkflowHistoryEvents {
	opts = append([]Option{WithRun(task.WorkflowID, task.RunID)}, opts...)
	return NewWorkflowHistoryEvents(task.Events, task.PreviousStartedEventID, opts...)
}

// NewEvents returns the events new to this task, oldest first.
func (h *WorkflowHistoryEvents) NewEvents() []history.Event {
	var out []history.Event
	for _, e := range h.events {
		if e.ID > h.previousStartedEventID {
			out = append(out, e)
		}
	}
	return out
}

// OldEvents returns the events handled by earlier tasks, oldest first.
func (h *WorkflowHistoryEvents) OldEvents() []history.Event {
	var out []history.Event
	for _, e := range h.events {
		if e.ID <= h.previousStartedEventID {
			out = append(out, e)
		}
	}
	return out
}

// InterpretNewEventsFor replays the history against w and returns the next
// decision batch.
//
// Old events are folded into the replay state without interpretation, as
// are the new records of this run's own earlier decisions (scheduling,
// timers, markers). The remaining new events are then interpreted oldest
// first, each against the state as of itself, and their lowered actions
// are concatenated in event order. The batch is finally made compatible
// with the backend (see decision.Compatible).
//
// Any error aborts the task: no partial batch is returned.
func (h *WorkflowHistoryEvents) InterpretNewEventsFor(w *Workflow) ([]decision.Decision, error) {
	if err := history.Validate(h.events); err != nil {
		return nil, &ReplayError{Code: ErrCodeMalformedHistory, Message: "invalid history", Err: err}
	}

	fresh := h.NewEvents()
	r := newReplay(w, h.opts, fresh)
	r.now = h.taskTime()

	for _, e := range h.OldEvents() {
		if err := r.apply(e); err != nil {
			return nil, err
		}
	}
	for _, e := range fresh {
		if isDecisionEcho(e.Type) {
			if err := r.apply(e); err != nil {
				return nil, err
			}
		}
	}

	var out []decision.Decision
	for _, e := range fresh {
		if !isDecisionEcho(e.Type) {
			if err := r.apply(e); err != nil {
				return nil, err
			}
		}
		r.current = e

		ev, err := r.workflowEvent(e)
		if err != nil {
			return nil, err
		}
		if _, support := ev.(*SupportEvent); support {
			continue
		}
		a, err := ev.Interpret(r)
		if err != nil {
			return nil, err
		}
		ds, err := a.lower(r)
		if err != nil {
			return nil, err
		}
		r.log.Debug("interpreted event", "event_id", e.ID, "type", string(e.Type), "decisions", len(ds))
		out = append(out, ds...)
	}
	return decision.Compatible(out), nil
}

// taskTime is the timestamp of the newest event, normally this task's
// DecisionTaskStarted, or the clock when the history has no timestamps.
func (h *WorkflowHistoryEvents) taskTime() time.Time {
	for i := len(h.events) - 1; i >= 0; i-- {
		if ts := h.events[i].Timestamp; !ts.IsZero() {
			return ts
		}
	}
	return h.opts.clock.Now()
}
