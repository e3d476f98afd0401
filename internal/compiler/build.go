package compiler

import (
	"fmt"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/engine"
)

// outcomeSetters binds each outcome to its ItemBuilder method.
var outcomeSetters = map[engine.Outcome]func(*engine.ItemBuilder, engine.ItemHandler) *engine.ItemBuilder{
	engine.OutcomeCompleted:          (*engine.ItemBuilder).OnCompletion,
	engine.OutcomeFailed:             (*engine.ItemBuilder).OnFailure,
	engine.OutcomeTimedOut:           (*engine.ItemBuilder).OnTimeout,
	engine.OutcomeCancelled:          (*engine.ItemBuilder).OnCancelled,
	engine.OutcomeSchedulingFailed:   (*engine.ItemBuilder).OnSchedulingFailed,
	engine.OutcomeCancellationFailed: (*engine.ItemBuilder).OnCancellationFailed,
	engine.OutcomeTerminated:         (*engine.ItemBuilder).OnTerminated,
	engine.OutcomeSignalsTimedout:    (*engine.ItemBuilder).OnSignalsTimedout,
	engine.OutcomeFalseWhen:          (*engine.ItemBuilder).OnFalseWhen,
}

// Build turns a validated WorkflowSpec into an engine workflow. Graph
// errors (duplicates, missing parents, cycles) are reported by the engine
// as *engine.DeclarationError.
func Build(spec *WorkflowSpec) (*engine.Workflow, error) {
	b := engine.NewBuilder(spec.Name, spec.Version)
	if spec.Completion != "" {
		b.DefaultCompletion(spec.Completion)
	}

	for _, item := range spec.Items {
		ib := addItem(b, item)
		if len(item.DependsOn) > 0 {
			ib.DependsOn(item.DependsOn...)
		}
		if item.When != nil {
			ib.When(whenFunc(*item.When))
		}
		if item.TaskList != "" {
			ib.TaskList(item.TaskList)
		}
		switch {
		case !item.InputFrom.IsZero():
			from := item.InputFrom
			ib.InputFrom(func(r *engine.Replay) string {
				if it := r.Item(from); it != nil {
					return r.Result(it)
				}
				return ""
			})
		case item.Input != "":
			ib.Input(item.Input)
		}
		if item.Control != "" {
			ib.Control(item.Control)
		}
		if item.ScheduleToClose != 0 || item.ScheduleToStart != 0 || item.StartToClose != 0 || item.Heartbeat != 0 {
			ib.Timeouts(item.ScheduleToClose, item.ScheduleToStart, item.StartToClose, item.Heartbeat)
		}
		if item.Kind == engine.KindTimer {
			ib.Delay(item.Delay)
		}
		if item.ChildPolicy != "" {
			ib.ChildPolicy(item.ChildPolicy)
		}
		if item.ExecutionTimeout != 0 || item.TaskTimeout != 0 {
			ib.ChildTimeouts(item.ExecutionTimeout, item.TaskTimeout)
		}
		for _, on := range item.On {
			set, ok := outcomeSetters[on.Outcome]
			if !ok {
				return nil, fmt.Errorf("build %s: unknown outcome %s", spec.Name, on.Outcome)
			}
			set(ib, itemHandler(on.Reaction))
		}
	}

	if spec.OnStarted != nil {
		rx := *spec.OnStarted
		b.OnStarted(func(ev *engine.WorkflowStartedEvent) engine.Action {
			return act(rx, scope{r: ev.Replay(), result: ev.Input()})
		})
	}
	if spec.OnCancellationRequested != nil {
		rx := *spec.OnCancellationRequested
		b.OnCancellationRequested(func(ev *engine.CancelRequestedEvent) engine.Action {
			return act(rx, scope{r: ev.Replay(), result: ev.Cause()})
		})
	}
	for _, route := range spec.Signals {
		rx := route.Reaction
		b.OnSignal(route.Name, func(ev *engine.SignalEvent) engine.Action {
			return act(rx, scope{r: ev.Replay(), signal: ev, result: ev.Input()})
		})
	}

	w, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", spec.Name, err)
	}
	return w, nil
}

// BuildAll builds every spec, stopping at the first failure.
func BuildAll(specs []*WorkflowSpec) ([]*engine.Workflow, error) {
	out := make([]*engine.Workflow, 0, len(specs))
	for _, spec := range specs {
		w, err := Build(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func addItem(b *engine.Builder, item ItemSpec) *engine.ItemBuilder {
	switch item.Kind {
	case engine.KindTimer:
		return b.Timer(item.Name, item.Positional)
	case engine.KindLambda:
		return b.Lambda(item.Name, item.Positional)
	case engine.KindChildWorkflow:
		return b.ChildWorkflow(item.Name, item.Version, item.Positional)
	}
	return b.Activity(item.Name, item.Version, item.Positional)
}

func itemHandler(rx Reaction) engine.ItemHandler {
	return func(ev *engine.ItemEvent) engine.Action {
		return act(rx, scope{r: ev.Replay(), item: ev, result: ev.Result()})
	}
}

// scope is the event a reaction runs for. Exactly one of item and signal is
// set for item and signal handlers; neither for workflow handlers.
type scope struct {
	r      *engine.Replay
	item   *engine.ItemEvent
	signal *engine.SignalEvent

	// result is the default payload: the item's result, the signal's
	// input, the workflow input or the cancellation cause.
	result string
}

// act turns a reaction into an engine action. Reactions that make no sense
// in the scope are rejected by Validate; here they degrade to Ignore.
func act(rx Reaction, s scope) engine.Action {
	switch rx.Kind {
	case ReactContinue:
		if s.item != nil {
			return engine.Continue(s.item.Item())
		}
	case ReactIgnore:
		return engine.Ignore()
	case ReactStart:
		return engine.StartWorkflow()
	case ReactReschedule:
		if s.item != nil {
			return engine.Reschedule(s.item.Item()).After(rx.After)
		}
	case ReactSchedule:
		return engine.Schedule(s.r.Item(rx.Target))
	case ReactCancel:
		return engine.Cancel(s.r.Item(rx.Target))
	case ReactComplete:
		result := rx.Result
		if result == "" {
			result = s.result
		}
		return engine.CompleteWorkflow(result)
	case ReactFail:
		details := rx.Details
		if details == "" && s.item != nil {
			details = firstNonEmpty(s.item.Details(), s.item.Reason())
		}
		return engine.FailWorkflow(rx.Reason, details)
	case ReactCancelWorkflow:
		return engine.CancelWorkflow(rx.Details)
	case ReactMarker:
		return engine.RecordMarker(rx.Name, rx.Details)
	case ReactWait:
		if s.item != nil {
			return waitAction(s.item, *rx.Wait)
		}
	case ReactResume:
		if s.signal != nil {
			return resume(s.signal, rx.Resume)
		}
	case ReactSignal:
		return signalAction(*rx.Signal, s)
	case ReactCombine:
		steps := make([]engine.Action, 0, len(rx.Steps))
		for _, step := range rx.Steps {
			steps = append(steps, act(step, s))
		}
		return engine.Combine(steps...)
	}
	return engine.Ignore()
}

func waitAction(ev *engine.ItemEvent, w WaitSpec) engine.Action {
	var a engine.WaitForSignalsAction
	if w.Type == decision.WaitAll {
		a = ev.WaitForAllSignals(w.Signals...)
	} else {
		a = ev.WaitForAnySignal(w.Signals...)
	}
	if w.HasTimeout {
		a = a.For(w.Timeout)
	}
	if w.Then == decision.NextReschedule {
		a = a.ThenReschedule()
	}
	return a
}

// resume picks the waiting items a custom signal handler resumes. With no
// item waiting the signal is dropped.
func resume(ev *engine.SignalEvent, which string) engine.Action {
	waiting := ev.WaitingItems()
	if len(waiting) == 0 {
		return engine.Ignore()
	}
	switch which {
	case ResumeLatest:
		return ev.Resume(waiting[len(waiting)-1])
	case ResumeAll:
		actions := make([]engine.Action, 0, len(waiting))
		for _, it := range waiting {
			actions = append(actions, ev.Resume(it))
		}
		return engine.Combine(actions...)
	}
	return ev.Resume(waiting[0])
}

func signalAction(sig OutgoingSignal, s scope) engine.Action {
	sb := engine.Signal(sig.Name, sig.Input)
	switch {
	case sig.Reply && s.signal != nil:
		return sb.ReplyTo(s.signal)
	case !sig.Child.IsZero():
		return sb.ForChildWorkflow(s.r.Item(sig.Child))
	}
	return sb.ForWorkflow(sig.WorkflowID, sig.RunID)
}

func whenFunc(c Condition) engine.WhenFunc {
	return func(r *engine.Replay) bool {
		var ok bool
		switch c.Kind {
		case CondSignalReceived:
			it := r.Item(c.Item)
			ok = it != nil && r.SignalReceived(it, c.Signal)
		case CondSignalTimedOut:
			it := r.Item(c.Item)
			ok = it != nil && r.SignalTimedOut(it, c.Signal)
		case CondResultEquals:
			it := r.Item(c.Item)
			ok = it != nil && r.Result(it) == c.Equals
		case CondInputEquals:
			ok = r.Input() == c.Equals
		}
		return ok != c.Negate
	}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
