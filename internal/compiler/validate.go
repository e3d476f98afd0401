package compiler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedType = "E100" // unsupported type for validation

	// Workflow errors (E101-E109)
	ErrWorkflowNameEmpty    = "E101" // name is required
	ErrWorkflowVersionEmpty = "E102" // version is required
	ErrItemNameEmpty        = "E103" // item name is required
	ErrItemVersionEmpty     = "E104" // activity/child workflow version is required
	ErrDuplicateItem        = "E105" // two items share an identity
	ErrUnknownItemRef       = "E106" // reference to an undeclared item
	ErrDependencyCycle      = "E107" // items depend on each other
	ErrInvalidItemSetting   = "E108" // setting not valid for the item kind
	ErrNegativeDuration     = "E109" // durations must not be negative

	// Reaction errors (E110-E119)
	ErrReactionScope    = "E110" // reaction not valid in this handler
	ErrInvalidWait      = "E111" // empty or malformed signal wait
	ErrReservedMarker   = "E112" // marker name reserved for bookkeeping
	ErrInvalidResume    = "E113" // unknown resume selector
	ErrSignalTarget     = "E114" // outgoing signal without a target
	ErrDuplicateSignal  = "E115" // signal routed twice
	ErrInvalidCondition = "E116" // malformed when condition
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled workflow declaration.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *WorkflowSpec:
		return validateWorkflow(spec)
	case WorkflowSpec:
		return validateWorkflow(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
}

// handlerScope is the kind of handler a reaction is declared in.
type handlerScope int

const (
	scopeItem handlerScope = iota
	scopeSignal
	scopeWorkflow
)

type validator struct {
	spec     *WorkflowSpec
	declared map[string]ItemSpec
	errs     []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (v *validator) addAt(field, code string, line int, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Line:    line,
	})
}

func validateWorkflow(spec *WorkflowSpec) []ValidationError {
	v := &validator{spec: spec, declared: make(map[string]ItemSpec, len(spec.Items))}

	// E101/E102: identity of the workflow type
	if strings.TrimSpace(spec.Name) == "" {
		v.add("name", ErrWorkflowNameEmpty, "workflow name is required")
	}
	if strings.TrimSpace(spec.Version) == "" {
		v.add("version", ErrWorkflowVersionEmpty, "workflow version is required")
	}

	for i, item := range spec.Items {
		field := fmt.Sprintf("items[%d]", i)
		key := item.Identity().Key()
		if prev, dup := v.declared[key]; dup {
			v.addAt(field, ErrDuplicateItem, item.Pos.Line(),
				"identity %s already declared at line %d", item.Identity(), prev.Pos.Line())
			continue
		}
		v.declared[key] = item
	}

	for i, item := range spec.Items {
		v.validateItem(fmt.Sprintf("items[%d]", i), item)
	}

	if spec.OnStarted != nil {
		v.validateReaction("on_started", *spec.OnStarted, scopeWorkflow)
	}
	if spec.OnCancellationRequested != nil {
		v.validateReaction("on_cancellation_requested", *spec.OnCancellationRequested, scopeWorkflow)
	}
	routed := make(map[string]bool, len(spec.Signals))
	for _, route := range spec.Signals {
		field := "signals." + route.Name
		name := ir.NormalizeName(route.Name)
		if routed[name] {
			v.addAt(field, ErrDuplicateSignal, route.Reaction.Pos.Line(),
				"signal %q is routed more than once", route.Name)
		}
		routed[name] = true
		v.validateReaction(field, route.Reaction, scopeSignal)
	}

	// The engine owns graph checks; only run them on an otherwise clean
	// declaration so that its first error is not a symptom of ours.
	if len(v.errs) == 0 {
		if _, err := Build(spec); err != nil {
			v.declarationError(err)
		}
	}
	return v.errs
}

func (v *validator) validateItem(field string, item ItemSpec) {
	line := item.Pos.Line()

	if strings.TrimSpace(item.Name) == "" {
		v.addAt(field, ErrItemNameEmpty, line, "%s name is required", item.Kind)
	}
	needsVersion := item.Kind == engine.KindActivity || item.Kind == engine.KindChildWorkflow
	if needsVersion && strings.TrimSpace(item.Version) == "" {
		v.addAt(field+".version", ErrItemVersionEmpty, line, "%s %q requires a version", item.Kind, item.Name)
	}

	for j, dep := range item.DependsOn {
		v.ref(fmt.Sprintf("%s.depends_on[%d]", field, j), dep, line)
	}
	if !item.InputFrom.IsZero() {
		v.ref(field+".input_from", item.InputFrom, line)
	}
	if item.When != nil {
		v.validateCondition(field+".when", *item.When, line)
	}

	if item.Kind != engine.KindTimer && item.Delay != 0 {
		v.addAt(field+".delay", ErrInvalidItemSetting, line, "delay is only valid on timers")
	}
	if item.Kind != engine.KindChildWorkflow {
		if item.ChildPolicy != "" {
			v.addAt(field+".child_policy", ErrInvalidItemSetting, line, "child_policy is only valid on child workflows")
		}
		if item.ExecutionTimeout != 0 || item.TaskTimeout != 0 {
			v.addAt(field+".timeouts", ErrInvalidItemSetting, line, "execution and task timeouts are only valid on child workflows")
		}
	}
	if item.Kind == engine.KindTimer && (item.Input != "" || !item.InputFrom.IsZero()) {
		v.addAt(field+".input", ErrInvalidItemSetting, line, "timers take no input")
	}

	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"delay", item.Delay},
		{"timeouts.schedule_to_close", item.ScheduleToClose},
		{"timeouts.schedule_to_start", item.ScheduleToStart},
		{"timeouts.start_to_close", item.StartToClose},
		{"timeouts.heartbeat", item.Heartbeat},
		{"timeouts.execution", item.ExecutionTimeout},
		{"timeouts.task", item.TaskTimeout},
	} {
		if d.val < 0 {
			v.addAt(field+"."+d.name, ErrNegativeDuration, line, "duration %s must not be negative", d.val)
		}
	}

	for _, on := range item.On {
		v.validateReaction(fmt.Sprintf("%s.on[%s]", field, on.Outcome), on.Reaction, scopeItem)
	}
}

func (v *validator) ref(field string, id ir.Identity, line int) {
	if _, ok := v.declared[id.Key()]; !ok {
		v.addAt(field, ErrUnknownItemRef, line, "undeclared item %s", id)
	}
}

func (v *validator) validateCondition(field string, c Condition, line int) {
	switch c.Kind {
	case CondSignalReceived, CondSignalTimedOut:
		v.ref(field+".item", c.Item, line)
		if strings.TrimSpace(c.Signal) == "" {
			v.addAt(field+".signal", ErrInvalidCondition, line, "signal name is required")
		}
	case CondResultEquals:
		v.ref(field+".item", c.Item, line)
	case CondInputEquals:
	default:
		v.addAt(field, ErrInvalidCondition, line, "unknown condition %q", c.Kind)
	}
}

// itemOnly lists reactions that act on the item whose event triggered them.
var itemOnly = map[ReactionKind]bool{
	ReactContinue:   true,
	ReactReschedule: true,
	ReactWait:       true,
}

func (v *validator) validateReaction(field string, rx Reaction, scope handlerScope) {
	line := rx.Pos.Line()

	if itemOnly[rx.Kind] && scope != scopeItem {
		v.addAt(field, ErrReactionScope, line, "%s is only valid in item handlers", rx.Kind)
	}
	if rx.Kind == ReactResume && scope != scopeSignal {
		v.addAt(field, ErrReactionScope, line, "resume is only valid in signal handlers")
	}

	switch rx.Kind {
	case ReactReschedule:
		if rx.After < 0 {
			v.addAt(field+".after", ErrNegativeDuration, line, "duration %s must not be negative", rx.After)
		}
	case ReactSchedule, ReactCancel:
		v.ref(field, rx.Target, line)
	case ReactMarker:
		if strings.TrimSpace(rx.Name) == "" {
			v.addAt(field+".name", ErrReservedMarker, line, "marker name is required")
		}
		if decision.IsBookkeepingMarker(rx.Name) {
			v.addAt(field+".name", ErrReservedMarker, line, "marker name %q is reserved", rx.Name)
		}
	case ReactWait:
		v.validateWait(field, rx.Wait, line)
	case ReactResume:
		switch rx.Resume {
		case ResumeEarliest, ResumeLatest, ResumeAll:
		default:
			v.addAt(field, ErrInvalidResume, line, "resume must be earliest, latest or all, got %q", rx.Resume)
		}
	case ReactSignal:
		v.validateSignal(field, rx.Signal, scope, line)
	case ReactCombine:
		for i, step := range rx.Steps {
			v.validateReaction(fmt.Sprintf("%s[%d]", field, i), step, scope)
		}
	}
}

func (v *validator) validateWait(field string, w *WaitSpec, line int) {
	if w == nil {
		v.addAt(field, ErrInvalidWait, line, "wait is missing its signals")
		return
	}
	if !w.Type.Valid() {
		v.addAt(field, ErrInvalidWait, line, "unknown wait type %q", w.Type)
	}
	if len(decision.NormalizeSignalNames(w.Signals)) == 0 {
		v.addAt(field, ErrInvalidWait, line, "wait needs at least one signal name")
	}
	for i, s := range w.Signals {
		if strings.TrimSpace(s) == "" {
			v.addAt(fmt.Sprintf("%s.signals[%d]", field, i), ErrInvalidWait, line, "signal name must be non-empty")
		}
	}
	if w.HasTimeout && w.Timeout < 0 {
		v.addAt(field+".timeout", ErrNegativeDuration, line, "duration %s must not be negative", w.Timeout)
	}
	if !w.Then.Valid() {
		v.addAt(field+".then", ErrInvalidWait, line, "unknown next action %q", w.Then)
	}
}

func (v *validator) validateSignal(field string, s *OutgoingSignal, scope handlerScope, line int) {
	if s == nil || strings.TrimSpace(s.Name) == "" {
		v.addAt(field+".name", ErrSignalTarget, line, "signal name is required")
		return
	}
	switch {
	case s.Reply:
		if scope != scopeSignal {
			v.addAt(field+".reply", ErrReactionScope, line, "reply is only valid in signal handlers")
		}
	case !s.Child.IsZero():
		v.ref(field+".child", s.Child, line)
		if it, ok := v.declared[s.Child.Key()]; ok && it.Kind != engine.KindChildWorkflow {
			v.addAt(field+".child", ErrSignalTarget, line, "%s is not a child workflow", s.Child)
		}
	case s.WorkflowID == "":
		v.addAt(field, ErrSignalTarget, line, "signal needs a workflow_id, a child or reply")
	}
}

// declarationError maps an engine declaration error onto a validation
// error.
func (v *validator) declarationError(err error) {
	var de *engine.DeclarationError
	if !errors.As(err, &de) {
		v.add("workflow", ErrUnsupportedType, "%v", err)
		return
	}
	code := map[engine.DeclarationErrorCode]string{
		engine.ErrCodeDuplicateItem:     ErrDuplicateItem,
		engine.ErrCodeParentItemMissing: ErrUnknownItemRef,
		engine.ErrCodeDependencyCycle:   ErrDependencyCycle,
		engine.ErrCodeInvalidItem:       ErrInvalidItemSetting,
	}[de.Code]
	field := "items"
	if de.Item != "" {
		field = de.Item
	}
	msg := de.Message
	if len(de.Path) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(de.Path, " -> "))
	}
	v.add(field, code, "%s", msg)
}
