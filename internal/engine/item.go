package engine

import (
	"slices"
	"time"

	"github.com/roach88/guflow/internal/ir"
)

// Kind is the variant of a workflow item.
type Kind int

const (
	KindActivity Kind = iota
	KindTimer
	KindLambda
	KindChildWorkflow
)

func (k Kind) String() string {
	switch k {
	case KindActivity:
		return "activity"
	case KindTimer:
		return "timer"
	case KindLambda:
		return "lambda"
	case KindChildWorkflow:
		return "child_workflow"
	}
	return "unknown"
}

// Status is an item's lifecycle state as seen by the replay.
type Status int

const (
	StatusNotStarted Status = iota
	StatusActive
	StatusCompleted
	StatusFailed
	StatusTimedOut
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the status ends an item's current run. Every
// terminal status counts as done when joining children.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// Outcome tags what happened to an item in an ItemEvent.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeTimedOut
	OutcomeCancelled
	OutcomeSchedulingFailed
	OutcomeCancellationFailed
	OutcomeTerminated
	OutcomeSignalsTimedout
	OutcomeFalseWhen
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSchedulingFailed:
		return "scheduling_failed"
	case OutcomeCancellationFailed:
		return "cancellation_failed"
	case OutcomeTerminated:
		return "terminated"
	case OutcomeSignalsTimedout:
		return "signals_timedout"
	case OutcomeFalseWhen:
		return "false_when"
	}
	return "unknown"
}

// ItemHandler computes the action for an item event. A nil result is
// treated as Ignore.
type ItemHandler func(ev *ItemEvent) Action

// WhenFunc gates the scheduling of an item.
type WhenFunc func(r *Replay) bool

// Item is one schedulable unit of a workflow.
//
// Items are created by a Builder and are immutable once Build returns; only
// the history changes between replays. Children hold non-owning references
// to their parents.
type Item struct {
	kind     Kind
	id       ir.Identity
	sid      ir.ScheduleID
	order    int
	parents  []*Item
	children []*Item

	when     WhenFunc
	handlers map[Outcome]ItemHandler

	taskList string
	input    func(r *Replay) string
	control  string

	scheduleToClose time.Duration
	scheduleToStart time.Duration
	startToClose    time.Duration
	heartbeat       time.Duration

	delay time.Duration

	childPolicy      string
	executionTimeout time.Duration
	taskTimeout      time.Duration
}

// Kind returns the item variant.
func (it *Item) Kind() Kind { return it.kind }

// Identity returns the declared identity.
func (it *Item) Identity() ir.Identity { return it.id }

// ScheduleID returns the id used for the item's backend tasks.
func (it *Item) ScheduleID() ir.ScheduleID { return it.sid }

// Name returns the declared name.
func (it *Item) Name() string { return it.id.Name() }

// Version returns the declared version.
func (it *Item) Version() string { return it.id.Version() }

// Parents returns the items this item depends on, in declaration order.
func (it *Item) Parents() []*Item { return slices.Clone(it.parents) }

// Children returns the items depending on this item, in declaration order.
func (it *Item) Children() []*Item { return slices.Clone(it.children) }

// IsRoot reports whether the item has no parents.
func (it *Item) IsRoot() bool { return len(it.parents) == 0 }

func (it *Item) String() string {
	return it.kind.String() + " " + it.id.String()
}

func (it *Item) handler(o Outcome) ItemHandler {
	return it.handlers[o]
}

func (it *Item) inputFor(r *Replay) string {
	if it.input == nil {
		return ""
	}
	return it.input(r)
}
