package decision

import (
	"time"
)

// Type names a decision variant.
type Type string

// Decision types. The last three are bookkeeping decisions realized as
// RecordMarker on the wire.
const (
	TypeScheduleActivity      Type = "ScheduleActivity"
	TypeScheduleLambda        Type = "ScheduleLambda"
	TypeStartChildWorkflow    Type = "StartChildWorkflow"
	TypeScheduleTimer         Type = "ScheduleTimer"
	TypeCancelActivity        Type = "CancelActivity"
	TypeCancelTimer           Type = "CancelTimer"
	TypeCompleteWorkflow      Type = "CompleteWorkflow"
	TypeFailWorkflow          Type = "FailWorkflow"
	TypeCancelWorkflow        Type = "CancelWorkflow"
	TypeSignalWorkflow        Type = "SignalWorkflow"
	TypeCancelRequestWorkflow Type = "CancelRequestWorkflow"
	TypeRecordMarker          Type = "RecordMarker"

	TypeWaitForSignals              Type = "WaitForSignals"
	TypeWorkflowItemSignalled       Type = "WorkflowItemSignalled"
	TypeWorkflowItemSignalsTimedout Type = "WorkflowItemSignalsTimedout"
)

// Decision is one wire-level command in a decision batch.
//
// Decisions are plain values: two decisions are equal iff their fields are
// equal. Order within a batch is significant and is preserved end to end.
type Decision interface {
	// Type returns the variant tag.
	Type() Type

	// Canonical returns the decision as a canonical-JSON-ready object.
	// Used for batch hashing, recording and golden traces.
	Canonical() map[string]any
}

// ScheduleActivity schedules an activity task.
type ScheduleActivity struct {
	ActivityID      string
	Name            string
	Version         string
	TaskList        string
	Input           string
	Control         string
	ScheduleToClose time.Duration
	ScheduleToStart time.Duration
	StartToClose    time.Duration
	Heartbeat       time.Duration
}

func (ScheduleActivity) Type() Type { return TypeScheduleActivity }

func (d ScheduleActivity) Canonical() map[string]any {
	m := map[string]any{
		"type":        string(d.Type()),
		"activity_id": d.ActivityID,
		"name":        d.Name,
		"version":     d.Version,
	}
	putString(m, "task_list", d.TaskList)
	putString(m, "input", d.Input)
	putString(m, "control", d.Control)
	putDuration(m, "schedule_to_close_seconds", d.ScheduleToClose)
	putDuration(m, "schedule_to_start_seconds", d.ScheduleToStart)
	putDuration(m, "start_to_close_seconds", d.StartToClose)
	putDuration(m, "heartbeat_seconds", d.Heartbeat)
	return m
}

// ScheduleLambda schedules a lambda function.
type ScheduleLambda struct {
	LambdaID     string
	Name         string
	Input        string
	StartToClose time.Duration
}

func (ScheduleLambda) Type() Type { return TypeScheduleLambda }

func (d ScheduleLambda) Canonical() map[string]any {
	m := map[string]any{
		"type":      string(d.Type()),
		"lambda_id": d.LambdaID,
		"name":      d.Name,
	}
	putString(m, "input", d.Input)
	putDuration(m, "start_to_close_seconds", d.StartToClose)
	return m
}

// StartChildWorkflow starts a child workflow execution.
type StartChildWorkflow struct {
	WorkflowID       string
	Name             string
	Version          string
	TaskList         string
	Input            string
	Control          string
	ChildPolicy      string
	ExecutionTimeout time.Duration
	TaskTimeout      time.Duration
}

func (StartChildWorkflow) Type() Type { return TypeStartChildWorkflow }

func (d StartChildWorkflow) Canonical() map[string]any {
	m := map[string]any{
		"type":        string(d.Type()),
		"workflow_id": d.WorkflowID,
		"name":        d.Name,
		"version":     d.Version,
	}
	putString(m, "task_list", d.TaskList)
	putString(m, "input", d.Input)
	putString(m, "control", d.Control)
	putString(m, "child_policy", d.ChildPolicy)
	putDuration(m, "execution_timeout_seconds", d.ExecutionTimeout)
	putDuration(m, "task_timeout_seconds", d.TaskTimeout)
	return m
}

// ScheduleTimer starts a timer. Control identifies what the timer is for
// (an item timer, a reschedule delay or a signal wait timeout).
type ScheduleTimer struct {
	TimerID string
	Delay   time.Duration
	Control TimerControl
}

func (ScheduleTimer) Type() Type { return TypeScheduleTimer }

func (d ScheduleTimer) Canonical() map[string]any {
	return map[string]any{
		"type":          string(d.Type()),
		"timer_id":      d.TimerID,
		"delay_seconds": Seconds(d.Delay),
		"control":       d.Control.canonical(),
	}
}

// CancelActivity requests cancellation of a scheduled activity.
type CancelActivity struct {
	ActivityID string
}

func (CancelActivity) Type() Type { return TypeCancelActivity }

func (d CancelActivity) Canonical() map[string]any {
	return map[string]any{"type": string(d.Type()), "activity_id": d.ActivityID}
}

// CancelTimer cancels a started timer.
type CancelTimer struct {
	TimerID string
}

func (CancelTimer) Type() Type { return TypeCancelTimer }

func (d CancelTimer) Canonical() map[string]any {
	return map[string]any{"type": string(d.Type()), "timer_id": d.TimerID}
}

// CompleteWorkflow closes the run successfully.
type CompleteWorkflow struct {
	Result string
}

func (CompleteWorkflow) Type() Type { return TypeCompleteWorkflow }

func (d CompleteWorkflow) Canonical() map[string]any {
	return map[string]any{"type": string(d.Type()), "result": d.Result}
}

// FailWorkflow closes the run as failed.
type FailWorkflow struct {
	Reason  string
	Details string
}

func (FailWorkflow) Type() Type { return TypeFailWorkflow }

func (d FailWorkflow) Canonical() map[string]any {
	return map[string]any{"type": string(d.Type()), "reason": d.Reason, "details": d.Details}
}

// CancelWorkflow closes the run as cancelled.
type CancelWorkflow struct {
	Details string
}

func (CancelWorkflow) Type() Type { return TypeCancelWorkflow }

func (d CancelWorkflow) Canonical() map[string]any {
	return map[string]any{"type": string(d.Type()), "details": d.Details}
}

// SignalWorkflow sends a signal to another workflow execution.
type SignalWorkflow struct {
	WorkflowID string
	RunID      string
	SignalName string
	Input      string
}

func (SignalWorkflow) Type() Type { return TypeSignalWorkflow }

func (d SignalWorkflow) Canonical() map[string]any {
	m := map[string]any{
		"type":        string(d.Type()),
		"workflow_id": d.WorkflowID,
		"signal_name": d.SignalName,
	}
	putString(m, "run_id", d.RunID)
	putString(m, "input", d.Input)
	return m
}

// CancelRequestWorkflow requests cancellation of another workflow execution.
type CancelRequestWorkflow struct {
	WorkflowID string
	RunID      string
}

func (CancelRequestWorkflow) Type() Type { return TypeCancelRequestWorkflow }

func (d CancelRequestWorkflow) Canonical() map[string]any {
	m := map[string]any{"type": string(d.Type()), "workflow_id": d.WorkflowID}
	putString(m, "run_id", d.RunID)
	return m
}

// RecordMarker records a named marker with free-form details.
type RecordMarker struct {
	Name    string
	Details string
}

func (RecordMarker) Type() Type { return TypeRecordMarker }

func (d RecordMarker) Canonical() map[string]any {
	return map[string]any{"type": string(d.Type()), "name": d.Name, "details": d.Details}
}

// Canonicals converts a batch to its canonical form, preserving order.
func Canonicals(batch []Decision) []any {
	out := make([]any, len(batch))
	for i, d := range batch {
		out[i] = d.Canonical()
	}
	return out
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func putDuration(m map[string]any, key string, d time.Duration) {
	if d > 0 {
		m[key] = Seconds(d)
	}
}

// Seconds rounds d up to whole seconds, the backend's resolution.
func Seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
