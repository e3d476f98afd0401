package swf

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	swftypes "github.com/aws/aws-sdk-go-v2/service/swf/types"

	"github.com/roach88/guflow/internal/decision"
)

// timeout renders a duration as SWF's decimal seconds. Zero leaves the
// field unset so the registered default applies.
func timeout(d time.Duration) *string {
	if d <= 0 {
		return nil
	}
	return aws.String(strconv.FormatInt(decision.Seconds(d), 10))
}

// optional returns nil for the empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func taskListOf(name string) *swftypes.TaskList {
	if name == "" {
		return nil
	}
	return &swftypes.TaskList{Name: aws.String(name)}
}

// convertDecision maps a wire decision onto its SWF form. Bookkeeping
// decisions must already be lowered by decision.Wire.
func convertDecision(d decision.Decision) (swftypes.Decision, error) {
	switch d := d.(type) {
	case decision.ScheduleActivity:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeScheduleActivityTask,
			ScheduleActivityTaskDecisionAttributes: &swftypes.ScheduleActivityTaskDecisionAttributes{
				ActivityId:             aws.String(d.ActivityID),
				ActivityType:           &swftypes.ActivityType{Name: aws.String(d.Name), Version: aws.String(d.Version)},
				TaskList:               taskListOf(d.TaskList),
				Input:                  optional(d.Input),
				Control:                optional(d.Control),
				ScheduleToCloseTimeout: timeout(d.ScheduleToClose),
				ScheduleToStartTimeout: timeout(d.ScheduleToStart),
				StartToCloseTimeout:    timeout(d.StartToClose),
				HeartbeatTimeout:       timeout(d.Heartbeat),
			},
		}, nil

	case decision.ScheduleLambda:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeScheduleLambdaFunction,
			ScheduleLambdaFunctionDecisionAttributes: &swftypes.ScheduleLambdaFunctionDecisionAttributes{
				Id:                  aws.String(d.LambdaID),
				Name:                aws.String(d.Name),
				Input:               optional(d.Input),
				StartToCloseTimeout: timeout(d.StartToClose),
			},
		}, nil

	case decision.StartChildWorkflow:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeStartChildWorkflowExecution,
			StartChildWorkflowExecutionDecisionAttributes: &swftypes.StartChildWorkflowExecutionDecisionAttributes{
				WorkflowId:                   aws.String(d.WorkflowID),
				WorkflowType:                 &swftypes.WorkflowType{Name: aws.String(d.Name), Version: aws.String(d.Version)},
				TaskList:                     taskListOf(d.TaskList),
				Input:                        optional(d.Input),
				Control:                      optional(d.Control),
				ChildPolicy:                  swftypes.ChildPolicy(d.ChildPolicy),
				ExecutionStartToCloseTimeout: timeout(d.ExecutionTimeout),
				TaskStartToCloseTimeout:      timeout(d.TaskTimeout),
			},
		}, nil

	case decision.ScheduleTimer:
		control, err := d.Control.Encode()
		if err != nil {
			return swftypes.Decision{}, err
		}
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeStartTimer,
			StartTimerDecisionAttributes: &swftypes.StartTimerDecisionAttributes{
				TimerId:            aws.String(d.TimerID),
				StartToFireTimeout: aws.String(strconv.FormatInt(decision.Seconds(d.Delay), 10)),
				Control:            aws.String(control),
			},
		}, nil

	case decision.CancelActivity:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeRequestCancelActivityTask,
			RequestCancelActivityTaskDecisionAttributes: &swftypes.RequestCancelActivityTaskDecisionAttributes{
				ActivityId: aws.String(d.ActivityID),
			},
		}, nil

	case decision.CancelTimer:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeCancelTimer,
			CancelTimerDecisionAttributes: &swftypes.CancelTimerDecisionAttributes{
				TimerId: aws.String(d.TimerID),
			},
		}, nil

	case decision.CompleteWorkflow:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeCompleteWorkflowExecution,
			CompleteWorkflowExecutionDecisionAttributes: &swftypes.CompleteWorkflowExecutionDecisionAttributes{
				Result: optional(d.Result),
			},
		}, nil

	case decision.FailWorkflow:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeFailWorkflowExecution,
			FailWorkflowExecutionDecisionAttributes: &swftypes.FailWorkflowExecutionDecisionAttributes{
				Reason:  optional(d.Reason),
				Details: optional(d.Details),
			},
		}, nil

	case decision.CancelWorkflow:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeCancelWorkflowExecution,
			CancelWorkflowExecutionDecisionAttributes: &swftypes.CancelWorkflowExecutionDecisionAttributes{
				Details: optional(d.Details),
			},
		}, nil

	case decision.SignalWorkflow:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeSignalExternalWorkflowExecution,
			SignalExternalWorkflowExecutionDecisionAttributes: &swftypes.SignalExternalWorkflowExecutionDecisionAttributes{
				WorkflowId: aws.String(d.WorkflowID),
				RunId:      optional(d.RunID),
				SignalName: aws.String(d.SignalName),
				Input:      optional(d.Input),
			},
		}, nil

	case decision.CancelRequestWorkflow:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeRequestCancelExternalWorkflowExecution,
			RequestCancelExternalWorkflowExecutionDecisionAttributes: &swftypes.RequestCancelExternalWorkflowExecutionDecisionAttributes{
				WorkflowId: aws.String(d.WorkflowID),
				RunId:      optional(d.RunID),
			},
		}, nil

	case decision.RecordMarker:
		return swftypes.Decision{
			DecisionType: swftypes.DecisionTypeRecordMarker,
			RecordMarkerDecisionAttributes: &swftypes.RecordMarkerDecisionAttributes{
				MarkerName: aws.String(d.Name),
				Details:    optional(d.Details),
			},
		}, nil
	}
	return swftypes.Decision{}, fmt.Errorf("decision %s has no SWF form", d.Type())
}
