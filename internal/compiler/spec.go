package compiler

import (
	"time"

	"cuelang.org/go/cue/token"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/ir"
)

// WorkflowSpec is a workflow declaration as read from a CUE file, before
// it is turned into an engine.Workflow.
type WorkflowSpec struct {
	Name       string
	Version    string
	Completion string
	Items      []ItemSpec

	OnStarted               *Reaction
	OnCancellationRequested *Reaction
	Signals                 []SignalRoute

	Pos token.Pos
}

// ItemSpec declares one workflow item.
type ItemSpec struct {
	Kind       engine.Kind
	Name       string
	Version    string
	Positional string

	DependsOn []ir.Identity
	When      *Condition

	TaskList  string
	Input     string
	InputFrom ir.Identity
	Control   string

	ScheduleToClose  time.Duration
	ScheduleToStart  time.Duration
	StartToClose     time.Duration
	Heartbeat        time.Duration
	Delay            time.Duration
	ChildPolicy      string
	ExecutionTimeout time.Duration
	TaskTimeout      time.Duration

	// On holds the declared reactions by outcome, in declaration order.
	On []OutcomeReaction

	Pos token.Pos
}

// Identity returns the item's identity.
func (s ItemSpec) Identity() ir.Identity {
	return ir.NewIdentity(s.Name, s.Version, s.Positional)
}

// OutcomeReaction binds a reaction to an item outcome.
type OutcomeReaction struct {
	Outcome  engine.Outcome
	Reaction Reaction
}

// SignalRoute is a custom handler for one signal name.
type SignalRoute struct {
	Name     string
	Reaction Reaction
}

// ReactionKind names a declarative handler.
type ReactionKind string

const (
	ReactContinue       ReactionKind = "continue"
	ReactIgnore         ReactionKind = "ignore"
	ReactStart          ReactionKind = "start"
	ReactReschedule     ReactionKind = "reschedule"
	ReactSchedule       ReactionKind = "schedule"
	ReactCancel         ReactionKind = "cancel"
	ReactComplete       ReactionKind = "complete"
	ReactFail           ReactionKind = "fail"
	ReactCancelWorkflow ReactionKind = "cancel_workflow"
	ReactWait           ReactionKind = "wait"
	ReactResume         ReactionKind = "resume"
	ReactMarker         ReactionKind = "record_marker"
	ReactSignal         ReactionKind = "signal"
	ReactCombine        ReactionKind = "combine"
)

// Reaction is a declarative handler. Only the fields of its Kind are set.
type Reaction struct {
	Kind ReactionKind

	// reschedule
	After time.Duration

	// schedule, cancel
	Target ir.Identity

	// complete, fail, cancel_workflow, record_marker
	Result  string
	Reason  string
	Details string
	Name    string

	// wait
	Wait *WaitSpec

	// resume: "earliest", "latest" or "all"
	Resume string

	// signal
	Signal *OutgoingSignal

	// combine
	Steps []Reaction

	Pos token.Pos
}

// WaitSpec declares a signal wait.
type WaitSpec struct {
	Signals    []string
	Type       decision.WaitType
	Timeout    time.Duration
	HasTimeout bool
	Then       decision.NextAction
}

// OutgoingSignal declares a signal sent to another workflow.
type OutgoingSignal struct {
	Name       string
	Input      string
	WorkflowID string
	RunID      string
	Child      ir.Identity
	Reply      bool
}

// ConditionKind names a When predicate.
type ConditionKind string

const (
	CondSignalReceived ConditionKind = "signal_received"
	CondSignalTimedOut ConditionKind = "signal_timed_out"
	CondResultEquals   ConditionKind = "result_equals"
	CondInputEquals    ConditionKind = "input_equals"
)

// Condition is a declarative When predicate.
type Condition struct {
	Kind   ConditionKind
	Item   ir.Identity
	Signal string
	Equals string
	Negate bool
}

// Resume selectors.
const (
	ResumeEarliest = "earliest"
	ResumeLatest   = "latest"
	ResumeAll      = "all"
)
