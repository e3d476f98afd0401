package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/ir"
)

// Workflow-level handler types.
type (
	StartedHandler         func(ev *WorkflowStartedEvent) Action
	SignalHandler          func(ev *SignalEvent) Action
	CancelRequestedHandler func(ev *CancelRequestedEvent) Action
	FailureHandler         func(ev *WorkflowFailureEvent) Action
)

// Workflow is an immutable, validated workflow graph.
type Workflow struct {
	name    string
	version string
	items   []*Item
	byKey   map[string]*Item
	roots   []*Item

	onStarted         StartedHandler
	onSignal          map[string]SignalHandler
	onCancelRequested CancelRequestedHandler
	onFailure         map[history.EventType]FailureHandler

	completion    string
	hasCompletion bool
}

// Name returns the workflow type name.
func (w *Workflow) Name() string { return w.name }

// Version returns the workflow type version.
func (w *Workflow) Version() string { return w.version }

// Items returns every item in declaration order.
func (w *Workflow) Items() []*Item {
	return slices.Clone(w.items)
}

// Roots returns the items without parents, in declaration order.
func (w *Workflow) Roots() []*Item {
	return slices.Clone(w.roots)
}

// Item looks up an item by identity.
func (w *Workflow) Item(id ir.Identity) (*Item, bool) {
	it, ok := w.byKey[id.Key()]
	return it, ok
}

// itemByScheduleID resolves a backend id to an item.
func (w *Workflow) itemByScheduleID(sid ir.ScheduleID) *Item {
	return w.byKey[sid.Key()]
}

// SignalHandled reports whether a custom handler is bound to the signal.
func (w *Workflow) SignalHandled(name string) bool {
	_, ok := w.onSignal[ir.NormalizeName(name)]
	return ok
}

// Builder collects item and handler declarations for a Workflow.
//
// Builder methods never fail; declaration errors are reported by Build.
type Builder struct {
	name    string
	version string
	items   []*ItemBuilder

	onStarted         StartedHandler
	onSignal          map[string]SignalHandler
	onCancelRequested CancelRequestedHandler
	onFailure         map[history.EventType]FailureHandler

	completion    string
	hasCompletion bool
}

// NewBuilder starts a workflow declaration.
func NewBuilder(name, version string) *Builder {
	return &Builder{
		name:      name,
		version:   version,
		onSignal:  make(map[string]SignalHandler),
		onFailure: make(map[history.EventType]FailureHandler),
	}
}

// ItemBuilder configures one declared item.
type ItemBuilder struct {
	item *Item
	deps []ir.Identity
	errs []string
}

func (b *Builder) add(kind Kind, id ir.Identity) *ItemBuilder {
	ib := &ItemBuilder{item: &Item{
		kind:     kind,
		id:       id,
		sid:      id.ScheduleID(),
		order:    len(b.items),
		handlers: make(map[Outcome]ItemHandler),
	}}
	b.items = append(b.items, ib)
	return ib
}

// Activity declares an activity item.
func (b *Builder) Activity(name, version, positional string) *ItemBuilder {
	return b.add(KindActivity, ir.NewIdentity(name, version, positional))
}

// Timer declares a timer item.
func (b *Builder) Timer(name, positional string) *ItemBuilder {
	return b.add(KindTimer, ir.NewIdentity(name, "", positional))
}

// Lambda declares a lambda function item.
func (b *Builder) Lambda(name, positional string) *ItemBuilder {
	return b.add(KindLambda, ir.NewIdentity(name, "", positional))
}

// ChildWorkflow declares a child workflow item.
func (b *Builder) ChildWorkflow(name, version, positional string) *ItemBuilder {
	return b.add(KindChildWorkflow, ir.NewIdentity(name, version, positional))
}

// DefaultCompletion sets the result of this workflow when it completes
// because all of its items are done, overriding WithDefaultCompletion.
func (b *Builder) DefaultCompletion(result string) *Builder {
	b.completion = result
	b.hasCompletion = true
	return b
}

// OnStarted overrides the reaction to the workflow starting. The default
// schedules every root item.
func (b *Builder) OnStarted(h StartedHandler) *Builder {
	b.onStarted = h
	return b
}

// OnSignal routes every delivery of the named signal to h instead of the
// automatic resume of waiting items. A later binding for the same name
// replaces an earlier one.
func (b *Builder) OnSignal(name string, h SignalHandler) *Builder {
	b.onSignal[ir.NormalizeName(name)] = h
	return b
}

// OnCancellationRequested overrides the default of cancelling the workflow.
func (b *Builder) OnCancellationRequested(h CancelRequestedHandler) *Builder {
	b.onCancelRequested = h
	return b
}

// OnRecordMarkerFailed overrides the default of failing the workflow.
func (b *Builder) OnRecordMarkerFailed(h FailureHandler) *Builder {
	b.onFailure[history.RecordMarkerFailed] = h
	return b
}

// OnSignalFailed overrides the default of failing the workflow when a
// signal to another workflow could not be delivered.
func (b *Builder) OnSignalFailed(h FailureHandler) *Builder {
	b.onFailure[history.SignalExternalWorkflowExecutionFailed] = h
	return b
}

// OnCancelRequestFailed overrides the default of failing the workflow when
// a cancel request to another workflow failed.
func (b *Builder) OnCancelRequestFailed(h FailureHandler) *Builder {
	b.onFailure[history.RequestCancelExternalWorkflowExecutionFailed] = h
	return b
}

// OnWorkflowDecisionFailed overrides the default of failing the workflow
// when a complete, fail or cancel decision was rejected.
func (b *Builder) OnWorkflowDecisionFailed(h FailureHandler) *Builder {
	b.onFailure[history.CompleteWorkflowExecutionFailed] = h
	b.onFailure[history.FailWorkflowExecutionFailed] = h
	b.onFailure[history.CancelWorkflowExecutionFailed] = h
	return b
}

// DependsOn adds parents. The item is scheduled once every parent has
// reached a terminal state.
func (ib *ItemBuilder) DependsOn(parents ...ir.Identity) *ItemBuilder {
	ib.deps = append(ib.deps, parents...)
	return ib
}

// When gates scheduling on a predicate evaluated against the replay.
func (ib *ItemBuilder) When(fn WhenFunc) *ItemBuilder {
	ib.item.when = fn
	return ib
}

func (ib *ItemBuilder) on(o Outcome, h ItemHandler) *ItemBuilder {
	ib.item.handlers[o] = h
	return ib
}

// OnCompletion overrides the default Continue on completion. For timers
// this is the timer firing.
func (ib *ItemBuilder) OnCompletion(h ItemHandler) *ItemBuilder {
	return ib.on(OutcomeCompleted, h)
}

func (ib *ItemBuilder) OnFailure(h ItemHandler) *ItemBuilder {
	return ib.on(OutcomeFailed, h)
}

func (ib *ItemBuilder) OnTimeout(h ItemHandler) *ItemBuilder {
	return ib.on(OutcomeTimedOut, h)
}

func (ib *ItemBuilder) OnCancelled(h ItemHandler) *ItemBuilder {
	return ib.on(OutcomeCancelled, h)
}

func (ib *ItemBuilder) OnSchedulingFailed(h ItemHandler) *ItemBuilder {
	return ib.on(OutcomeSchedulingFailed, h)
}

func (ib *ItemBuilder) OnCancellationFailed(h ItemHandler) *ItemBuilder {
	return ib.on(OutcomeCancellationFailed, h)
}

// OnTerminated handles a child workflow terminated by an operator.
func (ib *ItemBuilder) OnTerminated(h ItemHandler) *ItemBuilder {
	return ib.on(OutcomeTerminated, h)
}

// OnSignalsTimedout overrides the default Continue when a signal wait of
// this item times out.
func (ib *ItemBuilder) OnSignalsTimedout(h ItemHandler) *ItemBuilder {
	return ib.on(OutcomeSignalsTimedout, h)
}

// OnFalseWhen runs when the item's parents are done but its When predicate
// is false. The default is Ignore.
func (ib *ItemBuilder) OnFalseWhen(h ItemHandler) *ItemBuilder {
	return ib.on(OutcomeFalseWhen, h)
}

// TaskList sets the task list for activities and child workflows.
func (ib *ItemBuilder) TaskList(name string) *ItemBuilder {
	ib.item.taskList = name
	return ib
}

// Input sets a fixed input.
func (ib *ItemBuilder) Input(input string) *ItemBuilder {
	ib.item.input = func(*Replay) string { return input }
	return ib
}

// InputFrom computes the input from the replay at scheduling time.
func (ib *ItemBuilder) InputFrom(fn func(r *Replay) string) *ItemBuilder {
	ib.item.input = fn
	return ib
}

// Control sets the opaque control data for activities and child workflows.
func (ib *ItemBuilder) Control(control string) *ItemBuilder {
	ib.item.control = control
	return ib
}

// Timeouts sets activity timeouts. Zero leaves the registered default.
func (ib *ItemBuilder) Timeouts(scheduleToClose, scheduleToStart, startToClose, heartbeat time.Duration) *ItemBuilder {
	ib.item.scheduleToClose = scheduleToClose
	ib.item.scheduleToStart = scheduleToStart
	ib.item.startToClose = startToClose
	ib.item.heartbeat = heartbeat
	return ib
}

// StartToClose sets the start-to-close timeout of an activity or lambda.
func (ib *ItemBuilder) StartToClose(d time.Duration) *ItemBuilder {
	ib.item.startToClose = d
	return ib
}

// Delay sets how long a timer item runs before firing.
func (ib *ItemBuilder) Delay(d time.Duration) *ItemBuilder {
	if ib.item.kind != KindTimer {
		ib.errs = append(ib.errs, "delay is only valid on timers")
	}
	ib.item.delay = d
	return ib
}

// ChildPolicy sets the child policy of a child workflow.
func (ib *ItemBuilder) ChildPolicy(policy string) *ItemBuilder {
	if ib.item.kind != KindChildWorkflow {
		ib.errs = append(ib.errs, "child policy is only valid on child workflows")
	}
	ib.item.childPolicy = policy
	return ib
}

// ChildTimeouts sets the execution and decision task timeouts of a child
// workflow.
func (ib *ItemBuilder) ChildTimeouts(execution, task time.Duration) *ItemBuilder {
	if ib.item.kind != KindChildWorkflow {
		ib.errs = append(ib.errs, "child timeouts are only valid on child workflows")
	}
	ib.item.executionTimeout = execution
	ib.item.taskTimeout = task
	return ib
}

// Build validates the declarations and returns the immutable graph.
//
// Errors are reported in declaration order: invalid settings, duplicate
// identities, missing parents, then dependency cycles.
func (b *Builder) Build() (*Workflow, error) {
	w := &Workflow{
		name:              b.name,
		version:           b.version,
		byKey:             make(map[string]*Item, len(b.items)),
		onStarted:         b.onStarted,
		onSignal:          make(map[string]SignalHandler, len(b.onSignal)),
		onCancelRequested: b.onCancelRequested,
		onFailure:         make(map[history.EventType]FailureHandler, len(b.onFailure)),
		completion:        b.completion,
		hasCompletion:     b.hasCompletion,
	}
	for k, h := range b.onSignal {
		w.onSignal[k] = h
	}
	for k, h := range b.onFailure {
		w.onFailure[k] = h
	}

	for _, ib := range b.items {
		if err := b.validateItem(ib); err != nil {
			return nil, err
		}
		key := ib.item.id.Key()
		if prev, dup := w.byKey[key]; dup {
			return nil, &DeclarationError{
				Code:     ErrCodeDuplicateItem,
				Message:  fmt.Sprintf("identity already declared by %s", prev),
				Workflow: b.name,
				Item:     ib.item.id.String(),
			}
		}
		w.byKey[key] = ib.item
		w.items = append(w.items, ib.item)
	}

	for _, ib := range b.items {
		for _, dep := range ib.deps {
			parent, ok := w.byKey[dep.Key()]
			if !ok {
				return nil, &DeclarationError{
					Code:     ErrCodeParentItemMissing,
					Message:  fmt.Sprintf("depends on undeclared item %s", dep),
					Workflow: b.name,
					Item:     ib.item.id.String(),
				}
			}
			if slices.Contains(ib.item.parents, parent) {
				continue
			}
			ib.item.parents = append(ib.item.parents, parent)
			parent.children = append(parent.children, ib.item)
		}
	}

	if path := findCycle(w.items); path != nil {
		return nil, &DeclarationError{
			Code:     ErrCodeDependencyCycle,
			Message:  "items depend on each other",
			Workflow: b.name,
			Path:     path,
		}
	}

	for _, it := range w.items {
		if it.IsRoot() {
			w.roots = append(w.roots, it)
		}
	}
	return w, nil
}

func (b *Builder) validateItem(ib *ItemBuilder) error {
	it := ib.item
	msg := ""
	switch {
	case len(ib.errs) > 0:
		msg = ib.errs[0]
	case it.id.Name() == "":
		msg = "name is required"
	case (it.kind == KindActivity || it.kind == KindChildWorkflow) && it.id.Version() == "":
		msg = fmt.Sprintf("%s version is required", it.kind)
	case it.kind == KindTimer && it.delay < 0:
		msg = "timer delay must not be negative"
	}
	if msg == "" {
		return nil
	}
	return &DeclarationError{
		Code:     ErrCodeInvalidItem,
		Message:  msg,
		Workflow: b.name,
		Item:     it.id.String(),
	}
}
