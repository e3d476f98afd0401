package swf

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	swftypes "github.com/aws/aws-sdk-go-v2/service/swf/types"

	"github.com/roach88/guflow/internal/history"
)

// id reads an event id field whether the SDK models it as a value or a
// pointer.
func id[T int64 | *int64](v T) int64 {
	switch x := any(v).(type) {
	case int64:
		return x
	case *int64:
		if x != nil {
			return *x
		}
	}
	return 0
}

func execution(we *swftypes.WorkflowExecution) (string, string) {
	if we == nil {
		return "", ""
	}
	return aws.ToString(we.WorkflowId), aws.ToString(we.RunId)
}

func workflowType(wt *swftypes.WorkflowType) (string, string) {
	if wt == nil {
		return "", ""
	}
	return aws.ToString(wt.Name), aws.ToString(wt.Version)
}

func activityType(at *swftypes.ActivityType) (string, string) {
	if at == nil {
		return "", ""
	}
	return aws.ToString(at.Name), aws.ToString(at.Version)
}

func taskList(tl *swftypes.TaskList) string {
	if tl == nil {
		return ""
	}
	return aws.ToString(tl.Name)
}

// convertEvent maps an SWF history event onto the attributes the engine
// reads. Attributes the engine never looks at are dropped.
func convertEvent(e swftypes.HistoryEvent) (history.Event, error) {
	ev := history.Event{
		ID:        id(e.EventId),
		Type:      history.EventType(e.EventType),
		Timestamp: aws.ToTime(e.EventTimestamp),
	}
	if !ev.Type.Known() {
		return history.Event{}, fmt.Errorf("swf event %d: unknown event type %q", ev.ID, e.EventType)
	}
	a := &ev.Attributes

	switch ev.Type {
	case history.WorkflowExecutionStarted:
		if x := e.WorkflowExecutionStartedEventAttributes; x != nil {
			a.WorkflowName, a.WorkflowVersion = workflowType(x.WorkflowType)
			a.TaskList = taskList(x.TaskList)
			a.Input = aws.ToString(x.Input)
		}
	case history.WorkflowExecutionSignaled:
		if x := e.WorkflowExecutionSignaledEventAttributes; x != nil {
			a.SignalName = aws.ToString(x.SignalName)
			a.Input = aws.ToString(x.Input)
			a.ExternalWorkflowID, a.ExternalRunID = execution(x.ExternalWorkflowExecution)
		}
	case history.WorkflowExecutionCancelRequested:
		if x := e.WorkflowExecutionCancelRequestedEventAttributes; x != nil {
			a.Cause = string(x.Cause)
			a.ExternalWorkflowID, a.ExternalRunID = execution(x.ExternalWorkflowExecution)
		}
	case history.WorkflowExecutionCompleted:
		if x := e.WorkflowExecutionCompletedEventAttributes; x != nil {
			a.Result = aws.ToString(x.Result)
		}
	case history.WorkflowExecutionFailed:
		if x := e.WorkflowExecutionFailedEventAttributes; x != nil {
			a.Reason = aws.ToString(x.Reason)
			a.Details = aws.ToString(x.Details)
		}
	case history.WorkflowExecutionCanceled:
		if x := e.WorkflowExecutionCanceledEventAttributes; x != nil {
			a.Details = aws.ToString(x.Details)
		}
	case history.WorkflowExecutionTerminated:
		if x := e.WorkflowExecutionTerminatedEventAttributes; x != nil {
			a.Reason = aws.ToString(x.Reason)
			a.Details = aws.ToString(x.Details)
			a.Cause = string(x.Cause)
		}
	case history.WorkflowExecutionTimedOut:
		if x := e.WorkflowExecutionTimedOutEventAttributes; x != nil {
			a.TimeoutType = string(x.TimeoutType)
		}
	case history.WorkflowExecutionContinuedAsNew:
		if x := e.WorkflowExecutionContinuedAsNewEventAttributes; x != nil {
			a.RunID = aws.ToString(x.NewExecutionRunId)
			a.Input = aws.ToString(x.Input)
		}
	case history.CompleteWorkflowExecutionFailed:
		if x := e.CompleteWorkflowExecutionFailedEventAttributes; x != nil {
			a.Cause = string(x.Cause)
		}
	case history.FailWorkflowExecutionFailed:
		if x := e.FailWorkflowExecutionFailedEventAttributes; x != nil {
			a.Cause = string(x.Cause)
		}
	case history.CancelWorkflowExecutionFailed:
		if x := e.CancelWorkflowExecutionFailedEventAttributes; x != nil {
			a.Cause = string(x.Cause)
		}
	case history.ContinueAsNewWorkflowExecutionFailed:
		if x := e.ContinueAsNewWorkflowExecutionFailedEventAttributes; x != nil {
			a.Cause = string(x.Cause)
		}

	case history.DecisionTaskScheduled:
		if x := e.DecisionTaskScheduledEventAttributes; x != nil {
			a.TaskList = taskList(x.TaskList)
		}
	case history.DecisionTaskStarted:
		if x := e.DecisionTaskStartedEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
		}
	case history.DecisionTaskCompleted:
		if x := e.DecisionTaskCompletedEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.StartedEventID = id(x.StartedEventId)
		}
	case history.DecisionTaskTimedOut:
		if x := e.DecisionTaskTimedOutEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.TimeoutType = string(x.TimeoutType)
		}

	case history.ActivityTaskScheduled:
		if x := e.ActivityTaskScheduledEventAttributes; x != nil {
			a.ActivityID = aws.ToString(x.ActivityId)
			a.ActivityName, a.ActivityVersion = activityType(x.ActivityType)
			a.TaskList = taskList(x.TaskList)
			a.Input = aws.ToString(x.Input)
			a.Control = aws.ToString(x.Control)
		}
	case history.ScheduleActivityTaskFailed:
		if x := e.ScheduleActivityTaskFailedEventAttributes; x != nil {
			a.ActivityID = aws.ToString(x.ActivityId)
			a.ActivityName, a.ActivityVersion = activityType(x.ActivityType)
			a.Cause = string(x.Cause)
		}
	case history.ActivityTaskStarted:
		if x := e.ActivityTaskStartedEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
		}
	case history.ActivityTaskCompleted:
		if x := e.ActivityTaskCompletedEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.Result = aws.ToString(x.Result)
		}
	case history.ActivityTaskFailed:
		if x := e.ActivityTaskFailedEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.Reason = aws.ToString(x.Reason)
			a.Details = aws.ToString(x.Details)
		}
	case history.ActivityTaskTimedOut:
		if x := e.ActivityTaskTimedOutEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.TimeoutType = string(x.TimeoutType)
			a.Details = aws.ToString(x.Details)
		}
	case history.ActivityTaskCanceled:
		if x := e.ActivityTaskCanceledEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.Details = aws.ToString(x.Details)
		}
	case history.ActivityTaskCancelRequested:
		if x := e.ActivityTaskCancelRequestedEventAttributes; x != nil {
			a.ActivityID = aws.ToString(x.ActivityId)
		}
	case history.RequestCancelActivityTaskFailed:
		if x := e.RequestCancelActivityTaskFailedEventAttributes; x != nil {
			a.ActivityID = aws.ToString(x.ActivityId)
			a.Cause = string(x.Cause)
		}

	case history.TimerStarted:
		if x := e.TimerStartedEventAttributes; x != nil {
			a.TimerID = aws.ToString(x.TimerId)
			a.Control = aws.ToString(x.Control)
			if s := aws.ToString(x.StartToFireTimeout); s != "" {
				secs, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return history.Event{}, fmt.Errorf("swf event %d: timer %q start to fire timeout: %w", ev.ID, a.TimerID, err)
				}
				a.StartToFireSeconds = secs
			}
		}
	case history.StartTimerFailed:
		if x := e.StartTimerFailedEventAttributes; x != nil {
			a.TimerID = aws.ToString(x.TimerId)
			a.Cause = string(x.Cause)
		}
	case history.TimerFired:
		if x := e.TimerFiredEventAttributes; x != nil {
			a.TimerID = aws.ToString(x.TimerId)
			a.StartedEventID = id(x.StartedEventId)
		}
	case history.TimerCanceled:
		if x := e.TimerCanceledEventAttributes; x != nil {
			a.TimerID = aws.ToString(x.TimerId)
			a.StartedEventID = id(x.StartedEventId)
		}
	case history.CancelTimerFailed:
		if x := e.CancelTimerFailedEventAttributes; x != nil {
			a.TimerID = aws.ToString(x.TimerId)
			a.Cause = string(x.Cause)
		}

	case history.LambdaFunctionScheduled:
		if x := e.LambdaFunctionScheduledEventAttributes; x != nil {
			a.LambdaID = aws.ToString(x.Id)
			a.LambdaName = aws.ToString(x.Name)
			a.Input = aws.ToString(x.Input)
			a.Control = aws.ToString(x.Control)
		}
	case history.LambdaFunctionStarted:
		if x := e.LambdaFunctionStartedEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
		}
	case history.LambdaFunctionCompleted:
		if x := e.LambdaFunctionCompletedEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.Result = aws.ToString(x.Result)
		}
	case history.LambdaFunctionFailed:
		if x := e.LambdaFunctionFailedEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.Reason = aws.ToString(x.Reason)
			a.Details = aws.ToString(x.Details)
		}
	case history.LambdaFunctionTimedOut:
		if x := e.LambdaFunctionTimedOutEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.TimeoutType = string(x.TimeoutType)
		}
	case history.ScheduleLambdaFunctionFailed:
		if x := e.ScheduleLambdaFunctionFailedEventAttributes; x != nil {
			a.LambdaID = aws.ToString(x.Id)
			a.LambdaName = aws.ToString(x.Name)
			a.Cause = string(x.Cause)
		}
	case history.StartLambdaFunctionFailed:
		if x := e.StartLambdaFunctionFailedEventAttributes; x != nil {
			a.ScheduledEventID = id(x.ScheduledEventId)
			a.Cause = string(x.Cause)
			a.Details = aws.ToString(x.Message)
		}

	case history.StartChildWorkflowExecutionInitiated:
		if x := e.StartChildWorkflowExecutionInitiatedEventAttributes; x != nil {
			a.WorkflowID = aws.ToString(x.WorkflowId)
			a.WorkflowName, a.WorkflowVersion = workflowType(x.WorkflowType)
			a.TaskList = taskList(x.TaskList)
			a.Input = aws.ToString(x.Input)
			a.Control = aws.ToString(x.Control)
		}
	case history.StartChildWorkflowExecutionFailed:
		if x := e.StartChildWorkflowExecutionFailedEventAttributes; x != nil {
			a.WorkflowID = aws.ToString(x.WorkflowId)
			a.WorkflowName, a.WorkflowVersion = workflowType(x.WorkflowType)
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.Cause = string(x.Cause)
			a.Control = aws.ToString(x.Control)
		}
	case history.ChildWorkflowExecutionStarted:
		if x := e.ChildWorkflowExecutionStartedEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.WorkflowID, a.RunID = execution(x.WorkflowExecution)
			a.WorkflowName, a.WorkflowVersion = workflowType(x.WorkflowType)
		}
	case history.ChildWorkflowExecutionCompleted:
		if x := e.ChildWorkflowExecutionCompletedEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.WorkflowID, a.RunID = execution(x.WorkflowExecution)
			a.Result = aws.ToString(x.Result)
		}
	case history.ChildWorkflowExecutionFailed:
		if x := e.ChildWorkflowExecutionFailedEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.WorkflowID, a.RunID = execution(x.WorkflowExecution)
			a.Reason = aws.ToString(x.Reason)
			a.Details = aws.ToString(x.Details)
		}
	case history.ChildWorkflowExecutionTimedOut:
		if x := e.ChildWorkflowExecutionTimedOutEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.WorkflowID, a.RunID = execution(x.WorkflowExecution)
			a.TimeoutType = string(x.TimeoutType)
		}
	case history.ChildWorkflowExecutionCanceled:
		if x := e.ChildWorkflowExecutionCanceledEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.WorkflowID, a.RunID = execution(x.WorkflowExecution)
			a.Details = aws.ToString(x.Details)
		}
	case history.ChildWorkflowExecutionTerminated:
		if x := e.ChildWorkflowExecutionTerminatedEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.StartedEventID = id(x.StartedEventId)
			a.WorkflowID, a.RunID = execution(x.WorkflowExecution)
		}

	case history.MarkerRecorded:
		if x := e.MarkerRecordedEventAttributes; x != nil {
			a.MarkerName = aws.ToString(x.MarkerName)
			a.Details = aws.ToString(x.Details)
		}
	case history.RecordMarkerFailed:
		if x := e.RecordMarkerFailedEventAttributes; x != nil {
			a.MarkerName = aws.ToString(x.MarkerName)
			a.Cause = string(x.Cause)
		}

	case history.SignalExternalWorkflowExecutionInitiated:
		if x := e.SignalExternalWorkflowExecutionInitiatedEventAttributes; x != nil {
			a.WorkflowID = aws.ToString(x.WorkflowId)
			a.RunID = aws.ToString(x.RunId)
			a.SignalName = aws.ToString(x.SignalName)
			a.Input = aws.ToString(x.Input)
			a.Control = aws.ToString(x.Control)
		}
	case history.ExternalWorkflowExecutionSignaled:
		if x := e.ExternalWorkflowExecutionSignaledEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.WorkflowID, a.RunID = execution(x.WorkflowExecution)
		}
	case history.SignalExternalWorkflowExecutionFailed:
		if x := e.SignalExternalWorkflowExecutionFailedEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.WorkflowID = aws.ToString(x.WorkflowId)
			a.RunID = aws.ToString(x.RunId)
			a.Cause = string(x.Cause)
			a.Control = aws.ToString(x.Control)
		}
	case history.RequestCancelExternalWorkflowExecutionInitiated:
		if x := e.RequestCancelExternalWorkflowExecutionInitiatedEventAttributes; x != nil {
			a.WorkflowID = aws.ToString(x.WorkflowId)
			a.RunID = aws.ToString(x.RunId)
			a.Control = aws.ToString(x.Control)
		}
	case history.ExternalWorkflowExecutionCancelRequested:
		if x := e.ExternalWorkflowExecutionCancelRequestedEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.WorkflowID, a.RunID = execution(x.WorkflowExecution)
		}
	case history.RequestCancelExternalWorkflowExecutionFailed:
		if x := e.RequestCancelExternalWorkflowExecutionFailedEventAttributes; x != nil {
			a.InitiatedEventID = id(x.InitiatedEventId)
			a.WorkflowID = aws.ToString(x.WorkflowId)
			a.RunID = aws.ToString(x.RunId)
			a.Cause = string(x.Cause)
			a.Control = aws.ToString(x.Control)
		}
	}
	return ev, nil
}
