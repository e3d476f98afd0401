package compiler

import (
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/ir"
)

// CompileWorkflow parses a CUE value into a WorkflowSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the workflow struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`workflow: Approval: { version: "1", items: [...] }`)
//	spec, err := CompileWorkflow(v.LookupPath(cue.ParsePath("workflow.Approval")))
func CompileWorkflow(v cue.Value) (*WorkflowSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &WorkflowSpec{Pos: v.Pos()}

	// Workflow name from struct label
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	version, ok, err := optString(v, "version")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CompileError{Field: "version", Message: "version is required", Pos: v.Pos()}
	}
	spec.Version = version

	if spec.Completion, _, err = optString(v, "default_completion"); err != nil {
		return nil, err
	}

	if spec.Items, err = parseItems(v); err != nil {
		return nil, err
	}

	if spec.OnStarted, err = optReaction(v, "on_started"); err != nil {
		return nil, err
	}
	if spec.OnCancellationRequested, err = optReaction(v, "on_cancellation_requested"); err != nil {
		return nil, err
	}

	signalsVal := v.LookupPath(cue.ParsePath("signals"))
	if signalsVal.Exists() {
		iter, err := signalsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name := strings.Trim(iter.Selector().String(), `"`)
			r, err := parseReaction(iter.Value(), "signals."+name)
			if err != nil {
				return nil, err
			}
			spec.Signals = append(spec.Signals, SignalRoute{Name: name, Reaction: r})
		}
	}

	return spec, nil
}

// CompileAll compiles every workflow under the top-level "workflow" field.
// Compilation continues past a failing workflow so that all errors are
// reported at once.
func CompileAll(v cue.Value) ([]*WorkflowSpec, []error) {
	wfVal := v.LookupPath(cue.ParsePath("workflow"))
	if !wfVal.Exists() {
		return nil, nil
	}
	iter, err := wfVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var specs []*WorkflowSpec
	var errs []error
	for iter.Next() {
		spec, err := CompileWorkflow(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", strings.Trim(iter.Selector().String(), `"`), err))
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errs
}

// itemKinds maps the kind field of an item to its engine kind.
var itemKinds = []struct {
	field string
	kind  engine.Kind
}{
	{"activity", engine.KindActivity},
	{"timer", engine.KindTimer},
	{"lambda", engine.KindLambda},
	{"child_workflow", engine.KindChildWorkflow},
}

// outcomeFields maps item handler fields to outcomes.
var outcomeFields = []struct {
	field   string
	outcome engine.Outcome
}{
	{"on_completion", engine.OutcomeCompleted},
	{"on_failure", engine.OutcomeFailed},
	{"on_timeout", engine.OutcomeTimedOut},
	{"on_cancelled", engine.OutcomeCancelled},
	{"on_scheduling_failed", engine.OutcomeSchedulingFailed},
	{"on_cancellation_failed", engine.OutcomeCancellationFailed},
	{"on_terminated", engine.OutcomeTerminated},
	{"on_signals_timedout", engine.OutcomeSignalsTimedout},
	{"on_false_when", engine.OutcomeFalseWhen},
}

// parseItems extracts the ordered item list. Items are optional; a
// workflow without items completes as soon as it starts.
func parseItems(v cue.Value) ([]ItemSpec, error) {
	itemsVal := v.LookupPath(cue.ParsePath("items"))
	if !itemsVal.Exists() {
		return nil, nil
	}
	iter, err := itemsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var items []ItemSpec
	for i := 0; iter.Next(); i++ {
		item, err := parseItem(iter.Value(), fmt.Sprintf("items[%d]", i))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func parseItem(v cue.Value, field string) (ItemSpec, error) {
	item := ItemSpec{Pos: v.Pos()}

	found := 0
	for _, k := range itemKinds {
		name, ok, err := optString(v, k.field)
		if err != nil {
			return item, err
		}
		if ok {
			item.Kind = k.kind
			item.Name = name
			found++
		}
	}
	if found != 1 {
		return item, &CompileError{
			Field:   field,
			Message: "item must set exactly one of activity, timer, lambda or child_workflow",
			Pos:     v.Pos(),
		}
	}

	var err error
	if item.Version, _, err = optString(v, "version"); err != nil {
		return item, err
	}
	if item.Positional, _, err = optString(v, "positional"); err != nil {
		return item, err
	}

	depsVal := v.LookupPath(cue.ParsePath("depends_on"))
	if depsVal.Exists() {
		deps, err := depsVal.List()
		if err != nil {
			return item, formatCUEError(err)
		}
		for j := 0; deps.Next(); j++ {
			id, err := parseRef(deps.Value(), fmt.Sprintf("%s.depends_on[%d]", field, j))
			if err != nil {
				return item, err
			}
			item.DependsOn = append(item.DependsOn, id)
		}
	}

	whenVal := v.LookupPath(cue.ParsePath("when"))
	if whenVal.Exists() {
		cond, err := parseCondition(whenVal, field+".when")
		if err != nil {
			return item, err
		}
		item.When = &cond
	}

	if item.TaskList, _, err = optString(v, "task_list"); err != nil {
		return item, err
	}
	if item.Input, _, err = optString(v, "input"); err != nil {
		return item, err
	}
	if item.Control, _, err = optString(v, "control"); err != nil {
		return item, err
	}
	if item.ChildPolicy, _, err = optString(v, "child_policy"); err != nil {
		return item, err
	}
	fromVal := v.LookupPath(cue.ParsePath("input_from"))
	if fromVal.Exists() {
		if item.InputFrom, err = parseRef(fromVal, field+".input_from"); err != nil {
			return item, err
		}
	}

	if item.Delay, _, err = optDuration(v, "delay"); err != nil {
		return item, err
	}
	timeoutsVal := v.LookupPath(cue.ParsePath("timeouts"))
	if timeoutsVal.Exists() {
		for _, t := range []struct {
			name string
			dst  *time.Duration
		}{
			{"schedule_to_close", &item.ScheduleToClose},
			{"schedule_to_start", &item.ScheduleToStart},
			{"start_to_close", &item.StartToClose},
			{"heartbeat", &item.Heartbeat},
			{"execution", &item.ExecutionTimeout},
			{"task", &item.TaskTimeout},
		} {
			if *t.dst, _, err = optDuration(timeoutsVal, t.name); err != nil {
				return item, err
			}
		}
	}

	for _, o := range outcomeFields {
		r, err := optReaction(v, o.field)
		if err != nil {
			return item, err
		}
		if r != nil {
			item.On = append(item.On, OutcomeReaction{Outcome: o.outcome, Reaction: *r})
		}
	}

	return item, nil
}

func optReaction(v cue.Value, field string) (*Reaction, error) {
	rv := v.LookupPath(cue.ParsePath(field))
	if !rv.Exists() {
		return nil, nil
	}
	r, err := parseReaction(rv, field)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// parseReaction parses a handler. A reaction is a keyword string
// ("continue", "ignore", "start", "reschedule", "complete",
// "cancel_workflow", "resume"), a single-field struct carrying arguments,
// or a list of reactions run in order.
func parseReaction(v cue.Value, field string) (Reaction, error) {
	r := Reaction{Pos: v.Pos()}

	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return r, formatCUEError(err)
		}
		switch ReactionKind(s) {
		case ReactContinue, ReactIgnore, ReactStart, ReactReschedule, ReactComplete, ReactCancelWorkflow:
			r.Kind = ReactionKind(s)
		case ReactResume:
			r.Kind = ReactResume
			r.Resume = ResumeEarliest
		default:
			return r, &CompileError{Field: field, Message: fmt.Sprintf("unknown reaction %q", s), Pos: v.Pos()}
		}
		return r, nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return r, formatCUEError(err)
		}
		r.Kind = ReactCombine
		for i := 0; iter.Next(); i++ {
			step, err := parseReaction(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return r, err
			}
			r.Steps = append(r.Steps, step)
		}
		return r, nil

	case cue.StructKind:
	default:
		return r, &CompileError{Field: field, Message: "reaction must be a string, struct or list", Pos: v.Pos()}
	}

	iter, err := v.Fields()
	if err != nil {
		return r, formatCUEError(err)
	}
	var label string
	var arg cue.Value
	n := 0
	for iter.Next() {
		label = strings.Trim(iter.Selector().String(), `"`)
		arg = iter.Value()
		n++
	}
	if n != 1 {
		return r, &CompileError{Field: field, Message: "reaction struct must have exactly one field", Pos: v.Pos()}
	}
	field = field + "." + label
	r.Kind = ReactionKind(label)

	switch r.Kind {
	case ReactReschedule:
		if r.After, _, err = optDuration(arg, "after"); err != nil {
			return r, err
		}
	case ReactSchedule, ReactCancel:
		if r.Target, err = parseRef(arg, field); err != nil {
			return r, err
		}
	case ReactComplete:
		if r.Result, _, err = optString(arg, "result"); err != nil {
			return r, err
		}
	case ReactFail:
		reason, ok, err := optString(arg, "reason")
		if err != nil {
			return r, err
		}
		if !ok {
			return r, &CompileError{Field: field + ".reason", Message: "reason is required", Pos: arg.Pos()}
		}
		r.Reason = reason
		if r.Details, _, err = optString(arg, "details"); err != nil {
			return r, err
		}
	case ReactCancelWorkflow:
		if r.Details, _, err = optString(arg, "details"); err != nil {
			return r, err
		}
	case ReactMarker:
		if r.Name, _, err = optString(arg, "name"); err != nil {
			return r, err
		}
		if r.Details, _, err = optString(arg, "details"); err != nil {
			return r, err
		}
	case ReactResume:
		if r.Resume, err = arg.String(); err != nil {
			return r, formatCUEError(err)
		}
	case ReactWait:
		w, err := parseWait(arg, field)
		if err != nil {
			return r, err
		}
		r.Wait = &w
	case ReactSignal:
		s, err := parseSignal(arg, field)
		if err != nil {
			return r, err
		}
		r.Signal = &s
	default:
		return r, &CompileError{Field: field, Message: fmt.Sprintf("unknown reaction %q", label), Pos: v.Pos()}
	}
	return r, nil
}

// parseWait parses {any: [...]} or {all: [...]} plus optional timeout and
// then.
func parseWait(v cue.Value, field string) (WaitSpec, error) {
	w := WaitSpec{Then: decision.NextContinue}

	for _, t := range []struct {
		name string
		typ  decision.WaitType
	}{{"any", decision.WaitAny}, {"all", decision.WaitAll}} {
		lv := v.LookupPath(cue.ParsePath(t.name))
		if !lv.Exists() {
			continue
		}
		if w.Type != "" {
			return w, &CompileError{Field: field, Message: "wait must set one of any or all", Pos: v.Pos()}
		}
		w.Type = t.typ
		names, err := stringList(lv)
		if err != nil {
			return w, err
		}
		w.Signals = names
	}
	if w.Type == "" {
		return w, &CompileError{Field: field, Message: "wait must set one of any or all", Pos: v.Pos()}
	}

	var err error
	if w.Timeout, w.HasTimeout, err = optDuration(v, "timeout"); err != nil {
		return w, err
	}
	then, ok, err := optString(v, "then")
	if err != nil {
		return w, err
	}
	if ok {
		switch then {
		case "continue":
			w.Then = decision.NextContinue
		case "reschedule":
			w.Then = decision.NextReschedule
		default:
			return w, &CompileError{Field: field + ".then", Message: fmt.Sprintf("then must be continue or reschedule, got %q", then), Pos: v.Pos()}
		}
	}
	return w, nil
}

func parseSignal(v cue.Value, field string) (OutgoingSignal, error) {
	var s OutgoingSignal
	var err error
	var ok bool
	if s.Name, ok, err = optString(v, "name"); err != nil {
		return s, err
	}
	if !ok {
		return s, &CompileError{Field: field + ".name", Message: "signal name is required", Pos: v.Pos()}
	}
	if s.Input, _, err = optString(v, "input"); err != nil {
		return s, err
	}
	if s.WorkflowID, _, err = optString(v, "workflow_id"); err != nil {
		return s, err
	}
	if s.RunID, _, err = optString(v, "run_id"); err != nil {
		return s, err
	}
	childVal := v.LookupPath(cue.ParsePath("child"))
	if childVal.Exists() {
		if s.Child, err = parseRef(childVal, field+".child"); err != nil {
			return s, err
		}
	}
	replyVal := v.LookupPath(cue.ParsePath("reply"))
	if replyVal.Exists() {
		if s.Reply, err = replyVal.Bool(); err != nil {
			return s, formatCUEError(err)
		}
	}
	return s, nil
}

// parseCondition parses a When predicate, optionally wrapped in not.
func parseCondition(v cue.Value, field string) (Condition, error) {
	notVal := v.LookupPath(cue.ParsePath("not"))
	if notVal.Exists() {
		c, err := parseCondition(notVal, field+".not")
		c.Negate = !c.Negate
		return c, err
	}

	var c Condition
	var err error
	switch {
	case v.LookupPath(cue.ParsePath(string(CondSignalReceived))).Exists():
		c.Kind = CondSignalReceived
	case v.LookupPath(cue.ParsePath(string(CondSignalTimedOut))).Exists():
		c.Kind = CondSignalTimedOut
	case v.LookupPath(cue.ParsePath(string(CondResultEquals))).Exists():
		c.Kind = CondResultEquals
	case v.LookupPath(cue.ParsePath(string(CondInputEquals))).Exists():
		c.Kind = CondInputEquals
		c.Equals, _, err = optString(v, string(CondInputEquals))
		return c, err
	default:
		return c, &CompileError{Field: field, Message: "unknown condition", Pos: v.Pos()}
	}

	arg := v.LookupPath(cue.ParsePath(string(c.Kind)))
	itemVal := arg.LookupPath(cue.ParsePath("item"))
	if !itemVal.Exists() {
		return c, &CompileError{Field: field + ".item", Message: "item is required", Pos: arg.Pos()}
	}
	if c.Item, err = parseRef(itemVal, field+".item"); err != nil {
		return c, err
	}
	if c.Kind == CondResultEquals {
		c.Equals, _, err = optString(arg, "equals")
		return c, err
	}
	if c.Signal, _, err = optString(arg, "signal"); err != nil {
		return c, err
	}
	return c, nil
}

// parseRef parses an item reference such as "Download(1.0)#2".
func parseRef(v cue.Value, field string) (ir.Identity, error) {
	s, err := v.String()
	if err != nil {
		return ir.Identity{}, formatCUEError(err)
	}
	id, err := ir.ParseIdentity(s)
	if err != nil {
		return ir.Identity{}, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return id, nil
}

func optString(v cue.Value, field string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

// optDuration reads a duration given as a Go duration string ("90s",
// "1h30m") or as whole seconds.
func optDuration(v cue.Value, field string) (time.Duration, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, false, nil
	}
	switch fv.IncompleteKind() {
	case cue.IntKind:
		n, err := fv.Int64()
		if err != nil {
			return 0, false, formatCUEError(err)
		}
		return time.Duration(n) * time.Second, true, nil
	case cue.StringKind:
		s, err := fv.String()
		if err != nil {
			return 0, false, formatCUEError(err)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, false, &CompileError{Field: field, Message: fmt.Sprintf("invalid duration %q", s), Pos: fv.Pos()}
		}
		return d, true, nil
	}
	return 0, false, &CompileError{
		Field:   field,
		Message: "duration must be a string such as \"5m\" or whole seconds",
		Pos:     fv.Pos(),
	}
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
