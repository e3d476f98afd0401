package history

// EventType is the backend's type tag for a history record.
// Values match the SWF event type names so histories round-trip unchanged.
type EventType string

// Workflow execution events.
const (
	WorkflowExecutionStarted             EventType = "WorkflowExecutionStarted"
	WorkflowExecutionSignaled            EventType = "WorkflowExecutionSignaled"
	WorkflowExecutionCancelRequested     EventType = "WorkflowExecutionCancelRequested"
	WorkflowExecutionCompleted           EventType = "WorkflowExecutionCompleted"
	WorkflowExecutionFailed              EventType = "WorkflowExecutionFailed"
	WorkflowExecutionCanceled            EventType = "WorkflowExecutionCanceled"
	WorkflowExecutionTerminated          EventType = "WorkflowExecutionTerminated"
	WorkflowExecutionTimedOut            EventType = "WorkflowExecutionTimedOut"
	WorkflowExecutionContinuedAsNew      EventType = "WorkflowExecutionContinuedAsNew"
	CompleteWorkflowExecutionFailed      EventType = "CompleteWorkflowExecutionFailed"
	FailWorkflowExecutionFailed          EventType = "FailWorkflowExecutionFailed"
	CancelWorkflowExecutionFailed        EventType = "CancelWorkflowExecutionFailed"
	ContinueAsNewWorkflowExecutionFailed EventType = "ContinueAsNewWorkflowExecutionFailed"
)

// Decision task events.
const (
	DecisionTaskScheduled EventType = "DecisionTaskScheduled"
	DecisionTaskStarted   EventType = "DecisionTaskStarted"
	DecisionTaskCompleted EventType = "DecisionTaskCompleted"
	DecisionTaskTimedOut  EventType = "DecisionTaskTimedOut"
)

// Activity events.
const (
	ActivityTaskScheduled           EventType = "ActivityTaskScheduled"
	ScheduleActivityTaskFailed      EventType = "ScheduleActivityTaskFailed"
	ActivityTaskStarted             EventType = "ActivityTaskStarted"
	ActivityTaskCompleted           EventType = "ActivityTaskCompleted"
	ActivityTaskFailed              EventType = "ActivityTaskFailed"
	ActivityTaskTimedOut            EventType = "ActivityTaskTimedOut"
	ActivityTaskCanceled            EventType = "ActivityTaskCanceled"
	ActivityTaskCancelRequested     EventType = "ActivityTaskCancelRequested"
	RequestCancelActivityTaskFailed EventType = "RequestCancelActivityTaskFailed"
)

// Timer events.
const (
	TimerStarted      EventType = "TimerStarted"
	StartTimerFailed  EventType = "StartTimerFailed"
	TimerFired        EventType = "TimerFired"
	TimerCanceled     EventType = "TimerCanceled"
	CancelTimerFailed EventType = "CancelTimerFailed"
)

// Lambda events.
const (
	LambdaFunctionScheduled      EventType = "LambdaFunctionScheduled"
	LambdaFunctionStarted        EventType = "LambdaFunctionStarted"
	LambdaFunctionCompleted      EventType = "LambdaFunctionCompleted"
	LambdaFunctionFailed         EventType = "LambdaFunctionFailed"
	LambdaFunctionTimedOut       EventType = "LambdaFunctionTimedOut"
	ScheduleLambdaFunctionFailed EventType = "ScheduleLambdaFunctionFailed"
	StartLambdaFunctionFailed    EventType = "StartLambdaFunctionFailed"
)

// Child workflow events.
const (
	StartChildWorkflowExecutionInitiated EventType = "StartChildWorkflowExecutionInitiated"
	StartChildWorkflowExecutionFailed    EventType = "StartChildWorkflowExecutionFailed"
	ChildWorkflowExecutionStarted        EventType = "ChildWorkflowExecutionStarted"
	ChildWorkflowExecutionCompleted      EventType = "ChildWorkflowExecutionCompleted"
	ChildWorkflowExecutionFailed         EventType = "ChildWorkflowExecutionFailed"
	ChildWorkflowExecutionTimedOut       EventType = "ChildWorkflowExecutionTimedOut"
	ChildWorkflowExecutionCanceled       EventType = "ChildWorkflowExecutionCanceled"
	ChildWorkflowExecutionTerminated     EventType = "ChildWorkflowExecutionTerminated"
)

// Marker and external workflow events.
const (
	MarkerRecorded                                  EventType = "MarkerRecorded"
	RecordMarkerFailed                              EventType = "RecordMarkerFailed"
	SignalExternalWorkflowExecutionInitiated        EventType = "SignalExternalWorkflowExecutionInitiated"
	ExternalWorkflowExecutionSignaled               EventType = "ExternalWorkflowExecutionSignaled"
	SignalExternalWorkflowExecutionFailed           EventType = "SignalExternalWorkflowExecutionFailed"
	RequestCancelExternalWorkflowExecutionInitiated EventType = "RequestCancelExternalWorkflowExecutionInitiated"
	ExternalWorkflowExecutionCancelRequested        EventType = "ExternalWorkflowExecutionCancelRequested"
	RequestCancelExternalWorkflowExecutionFailed    EventType = "RequestCancelExternalWorkflowExecutionFailed"
)

var knownTypes = map[EventType]struct{}{}

func init() {
	for _, t := range []EventType{
		WorkflowExecutionStarted, WorkflowExecutionSignaled, WorkflowExecutionCancelRequested,
		WorkflowExecutionCompleted, WorkflowExecutionFailed, WorkflowExecutionCanceled,
		WorkflowExecutionTerminated, WorkflowExecutionTimedOut, WorkflowExecutionContinuedAsNew,
		CompleteWorkflowExecutionFailed, FailWorkflowExecutionFailed, CancelWorkflowExecutionFailed,
		ContinueAsNewWorkflowExecutionFailed,
		DecisionTaskScheduled, DecisionTaskStarted, DecisionTaskCompleted, DecisionTaskTimedOut,
		ActivityTaskScheduled, ScheduleActivityTaskFailed, ActivityTaskStarted, ActivityTaskCompleted,
		ActivityTaskFailed, ActivityTaskTimedOut, ActivityTaskCanceled, ActivityTaskCancelRequested,
		RequestCancelActivityTaskFailed,
		TimerStarted, StartTimerFailed, TimerFired, TimerCanceled, CancelTimerFailed,
		LambdaFunctionScheduled, LambdaFunctionStarted, LambdaFunctionCompleted, LambdaFunctionFailed,
		LambdaFunctionTimedOut, ScheduleLambdaFunctionFailed, StartLambdaFunctionFailed,
		StartChildWorkflowExecutionInitiated, StartChildWorkflowExecutionFailed,
		ChildWorkflowExecutionStarted, ChildWorkflowExecutionCompleted, ChildWorkflowExecutionFailed,
		ChildWorkflowExecutionTimedOut, ChildWorkflowExecutionCanceled, ChildWorkflowExecutionTerminated,
		MarkerRecorded, RecordMarkerFailed,
		SignalExternalWorkflowExecutionInitiated, ExternalWorkflowExecutionSignaled,
		SignalExternalWorkflowExecutionFailed,
		RequestCancelExternalWorkflowExecutionInitiated, ExternalWorkflowExecutionCancelRequested,
		RequestCancelExternalWorkflowExecutionFailed,
	} {
		knownTypes[t] = struct{}{}
	}
}

// Known reports whether t is part of the supported vocabulary.
func (t EventType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// DecisionTask is one unit of work handed out by the backend: the run's
// history (newest-first, as delivered) plus the reply token.
type DecisionTask struct {
	TaskToken       string
	WorkflowID      string
	RunID           string
	WorkflowName    string
	WorkflowVersion string

	// Events is the full history, newest-first.
	Events []Event

	// PreviousStartedEventID is the DecisionTaskStarted event of the last
	// completed decision task, or 0 for the first task of a run. Events
	// after it are new to this task.
	PreviousStartedEventID int64

	// StartedEventID is this task's DecisionTaskStarted event.
	StartedEventID int64
}
