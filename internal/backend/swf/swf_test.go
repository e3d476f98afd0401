package swf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	swfapi "github.com/aws/aws-sdk-go-v2/service/swf"
	swftypes "github.com/aws/aws-sdk-go-v2/service/swf/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
)

// fakeAPI serves canned poll pages keyed by the request's page token.
type fakeAPI struct {
	pages   map[string]*swfapi.PollForDecisionTaskOutput
	polls   []*swfapi.PollForDecisionTaskInput
	respond []*swfapi.RespondDecisionTaskCompletedInput
	pollErr error
}

func (f *fakeAPI) PollForDecisionTask(_ context.Context, in *swfapi.PollForDecisionTaskInput, _ ...func(*swfapi.Options)) (*swfapi.PollForDecisionTaskOutput, error) {
	cp := *in
	f.polls = append(f.polls, &cp)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	out, ok := f.pages[aws.ToString(in.NextPageToken)]
	if !ok {
		return nil, errors.New("unexpected page token")
	}
	return out, nil
}

func (f *fakeAPI) RespondDecisionTaskCompleted(_ context.Context, in *swfapi.RespondDecisionTaskCompletedInput, _ ...func(*swfapi.Options)) (*swfapi.RespondDecisionTaskCompletedOutput, error) {
	f.respond = append(f.respond, in)
	return &swfapi.RespondDecisionTaskCompletedOutput{}, nil
}

func setInt64[T int64 | *int64](dst *T, v int64) {
	switch p := any(dst).(type) {
	case *int64:
		*p = v
	case **int64:
		*p = &v
	}
}

var at = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func event(id int64, t history.EventType) swftypes.HistoryEvent {
	e := swftypes.HistoryEvent{EventType: swftypes.EventType(t), EventTimestamp: aws.Time(at)}
	setInt64(&e.EventId, id)
	return e
}

func newBackend(api API) *Backend {
	return NewFromClient(api, Config{Domain: "d", TaskList: "tl", Identity: "me", PageSize: 2},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPoll_NoTask(t *testing.T) {
	api := &fakeAPI{pages: map[string]*swfapi.PollForDecisionTaskOutput{"": {}}}
	task, err := newBackend(api).PollForDecisionTask(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestPoll_Error(t *testing.T) {
	api := &fakeAPI{pollErr: errors.New("throttled")}
	_, err := newBackend(api).PollForDecisionTask(context.Background())
	assert.ErrorContains(t, err, "throttled")
}

func TestPoll_MergesPages(t *testing.T) {
	started := event(4, history.DecisionTaskStarted)
	completed := event(3, history.ActivityTaskCompleted)
	completed.ActivityTaskCompletedEventAttributes = &swftypes.ActivityTaskCompletedEventAttributes{Result: aws.String("ok")}
	setInt64(&completed.ActivityTaskCompletedEventAttributes.ScheduledEventId, 2)
	scheduled := event(2, history.ActivityTaskScheduled)
	scheduled.ActivityTaskScheduledEventAttributes = &swftypes.ActivityTaskScheduledEventAttributes{
		ActivityId:   aws.String("ship.1"),
		ActivityType: &swftypes.ActivityType{Name: aws.String("Ship"), Version: aws.String("1")},
	}
	wfStarted := event(1, history.WorkflowExecutionStarted)
	wfStarted.WorkflowExecutionStartedEventAttributes = &swftypes.WorkflowExecutionStartedEventAttributes{
		WorkflowType: &swftypes.WorkflowType{Name: aws.String("Shipping"), Version: aws.String("1")},
		Input:        aws.String("box"),
	}

	first := &swfapi.PollForDecisionTaskOutput{
		TaskToken:         aws.String("tok"),
		Events:            []swftypes.HistoryEvent{started, completed},
		NextPageToken:     aws.String("p2"),
		WorkflowExecution: &swftypes.WorkflowExecution{WorkflowId: aws.String("wf"), RunId: aws.String("run")},
		WorkflowType:      &swftypes.WorkflowType{Name: aws.String("Shipping"), Version: aws.String("1")},
	}
	setInt64(&first.StartedEventId, 4)
	second := &swfapi.PollForDecisionTaskOutput{
		TaskToken: aws.String("tok"),
		Events:    []swftypes.HistoryEvent{scheduled, wfStarted},
	}
	api := &fakeAPI{pages: map[string]*swfapi.PollForDecisionTaskOutput{"": first, "p2": second}}

	task, err := newBackend(api).PollForDecisionTask(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Len(t, api.polls, 2)
	assert.Equal(t, "p2", aws.ToString(api.polls[1].NextPageToken))
	assert.Equal(t, "d", aws.ToString(api.polls[0].Domain))
	assert.Equal(t, "me", aws.ToString(api.polls[0].Identity))
	assert.True(t, api.polls[0].ReverseOrder)
	assert.Equal(t, int32(2), api.polls[0].MaximumPageSize)

	assert.Equal(t, "tok", task.TaskToken)
	assert.Equal(t, "wf", task.WorkflowID)
	assert.Equal(t, "run", task.RunID)
	assert.Equal(t, "Shipping", task.WorkflowName)
	assert.Equal(t, int64(4), task.StartedEventID)
	require.Len(t, task.Events, 4)
	assert.Equal(t, []int64{4, 3, 2, 1}, []int64{task.Events[0].ID, task.Events[1].ID, task.Events[2].ID, task.Events[3].ID})

	assert.Equal(t, "ok", task.Events[1].Result)
	assert.Equal(t, int64(2), task.Events[1].ScheduledEventID)
	assert.Equal(t, "ship.1", task.Events[2].ActivityID)
	assert.Equal(t, "Ship", task.Events[2].ActivityName)
	assert.Equal(t, "box", task.Events[3].Input)
	assert.Equal(t, at, task.Events[3].Timestamp)
}

func TestPoll_RejectsOutOfOrderPages(t *testing.T) {
	first := &swfapi.PollForDecisionTaskOutput{
		TaskToken:     aws.String("tok"),
		Events:        []swftypes.HistoryEvent{event(2, history.DecisionTaskStarted)},
		NextPageToken: aws.String("p2"),
	}
	second := &swfapi.PollForDecisionTaskOutput{
		TaskToken: aws.String("tok"),
		Events:    []swftypes.HistoryEvent{event(3, history.DecisionTaskScheduled)},
	}
	api := &fakeAPI{pages: map[string]*swfapi.PollForDecisionTaskOutput{"": first, "p2": second}}
	_, err := newBackend(api).PollForDecisionTask(context.Background())
	assert.ErrorContains(t, err, "not older than")
}

func TestConvertEvent_UnknownType(t *testing.T) {
	_, err := convertEvent(event(1, "SomethingNew"))
	assert.ErrorContains(t, err, "unknown event type")
}

func TestConvertEvent_TimerStarted(t *testing.T) {
	e := event(5, history.TimerStarted)
	e.TimerStartedEventAttributes = &swftypes.TimerStartedEventAttributes{
		TimerId:            aws.String("t"),
		StartToFireTimeout: aws.String("90"),
		Control:            aws.String(`{"timerName":"t","timerType":"Timer"}`),
	}
	ev, err := convertEvent(e)
	require.NoError(t, err)
	assert.Equal(t, int64(90), ev.StartToFireSeconds)
	assert.Equal(t, "t", ev.TimerID)

	e.TimerStartedEventAttributes.StartToFireTimeout = aws.String("soon")
	_, err = convertEvent(e)
	assert.Error(t, err)
}

func TestConvertEvent_SignalAndCauses(t *testing.T) {
	sig := event(7, history.WorkflowExecutionSignaled)
	sig.WorkflowExecutionSignaledEventAttributes = &swftypes.WorkflowExecutionSignaledEventAttributes{
		SignalName:                aws.String("approve"),
		Input:                     aws.String("yes"),
		ExternalWorkflowExecution: &swftypes.WorkflowExecution{WorkflowId: aws.String("boss"), RunId: aws.String("r")},
	}
	ev, err := convertEvent(sig)
	require.NoError(t, err)
	assert.Equal(t, "approve", ev.SignalName)
	assert.Equal(t, "boss", ev.ExternalWorkflowID)
	assert.Equal(t, "r", ev.ExternalRunID)

	failed := event(8, history.ActivityTaskTimedOut)
	failed.ActivityTaskTimedOutEventAttributes = &swftypes.ActivityTaskTimedOutEventAttributes{
		TimeoutType: swftypes.ActivityTaskTimeoutType("START_TO_CLOSE"),
	}
	ev, err = convertEvent(failed)
	require.NoError(t, err)
	assert.Equal(t, "START_TO_CLOSE", ev.TimeoutType)
}

func TestRespond_LowersDecisions(t *testing.T) {
	api := &fakeAPI{}
	err := newBackend(api).RespondWithDecisions(context.Background(), "tok", []decision.Decision{
		decision.ScheduleActivity{ActivityID: "ship.1", Name: "Ship", Version: "1", StartToClose: 1500 * time.Millisecond},
		decision.ScheduleTimer{TimerID: "t", Delay: time.Minute, Control: decision.TimerControl{TimerName: "t", TimerType: decision.TimerItem}},
		decision.WaitForSignals{ScheduleID: "ship.1", TriggerEventID: 3, SignalNames: []string{"go"}, WaitType: decision.WaitAny, NextAction: decision.NextContinue},
		decision.CompleteWorkflow{Result: "done"},
	})
	require.NoError(t, err)
	require.Len(t, api.respond, 1)

	in := api.respond[0]
	assert.Equal(t, "tok", aws.ToString(in.TaskToken))
	require.Len(t, in.Decisions, 4)

	act := in.Decisions[0]
	assert.Equal(t, swftypes.DecisionTypeScheduleActivityTask, act.DecisionType)
	assert.Equal(t, "ship.1", aws.ToString(act.ScheduleActivityTaskDecisionAttributes.ActivityId))
	assert.Equal(t, "2", aws.ToString(act.ScheduleActivityTaskDecisionAttributes.StartToCloseTimeout))
	assert.Nil(t, act.ScheduleActivityTaskDecisionAttributes.HeartbeatTimeout)
	assert.Nil(t, act.ScheduleActivityTaskDecisionAttributes.TaskList)

	timer := in.Decisions[1]
	assert.Equal(t, swftypes.DecisionTypeStartTimer, timer.DecisionType)
	assert.Equal(t, "60", aws.ToString(timer.StartTimerDecisionAttributes.StartToFireTimeout))
	assert.JSONEq(t, `{"timerName":"t","timerType":"Timer"}`, aws.ToString(timer.StartTimerDecisionAttributes.Control))

	marker := in.Decisions[2]
	assert.Equal(t, swftypes.DecisionTypeRecordMarker, marker.DecisionType)
	assert.Equal(t, decision.WaitForSignalsMarkerName, aws.ToString(marker.RecordMarkerDecisionAttributes.MarkerName))

	assert.Equal(t, swftypes.DecisionTypeCompleteWorkflowExecution, in.Decisions[3].DecisionType)
	assert.Equal(t, "done", aws.ToString(in.Decisions[3].CompleteWorkflowExecutionDecisionAttributes.Result))
}

func TestNew_RequiresDomainAndTaskList(t *testing.T) {
	_, err := New(context.Background(), Config{Domain: "d"}, nil)
	assert.Error(t, err)
}
