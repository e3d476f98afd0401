package backend

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/ir"
	"github.com/roach88/guflow/internal/testutil"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemory() *Memory {
	clock := testutil.NewClock(time.Time{})
	return NewMemory(
		WithIDs(testutil.NewSequenceGenerator("id")),
		WithNow(clock.Now),
		WithMemoryLogger(quiet()),
		WithPollTimeout(50*time.Millisecond),
	)
}

func shippingEngine(t *testing.T) *engine.Engine {
	t.Helper()
	b := engine.NewBuilder("Shipping", "1")
	b.Activity("Pack", "1", "")
	b.Activity("Ship", "1", "").DependsOn(ir.NewIdentity("Pack", "1", ""))
	w, err := b.Build()
	require.NoError(t, err)
	e := engine.New(engine.WithLogger(quiet()))
	require.NoError(t, e.Register(w))
	return e
}

// pollDecide polls one task, decides it and responds.
func pollDecide(t *testing.T, m *Memory, e *engine.Engine) []decision.Decision {
	t.Helper()
	ctx := context.Background()
	task, err := m.PollForDecisionTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	batch, err := e.Decide(*task)
	require.NoError(t, err)
	require.NoError(t, m.RespondWithDecisions(ctx, task.TaskToken, batch))
	return batch
}

func TestMemory_RunToCompletion(t *testing.T) {
	m := newMemory()
	e := shippingEngine(t)

	runID, err := m.StartRun("order-1", "Shipping", "1", "box")
	require.NoError(t, err)
	assert.Equal(t, 1, m.PendingTasks())

	batch := pollDecide(t, m, e)
	require.Len(t, batch, 1)
	assert.Equal(t, decision.TypeScheduleActivity, batch[0].Type())
	assert.Equal(t, []string{"activity:pack.1"}, m.Outstanding(runID))

	require.NoError(t, m.CompleteActivity(runID, "pack.1", "packed"))
	batch = pollDecide(t, m, e)
	assert.Equal(t, []decision.Decision{decision.ScheduleActivity{
		ActivityID: "ship.1", Name: "Ship", Version: "1",
	}}, batch)

	require.NoError(t, m.CompleteActivity(runID, "ship.1", "shipped"))
	pollDecide(t, m, e)

	assert.Equal(t, history.WorkflowExecutionCompleted, m.CloseStatus(runID))
	assert.Empty(t, m.Outstanding(runID))

	events, ok := m.History(runID)
	require.True(t, ok)
	require.NoError(t, history.Validate(events))
	assert.Equal(t, history.WorkflowExecutionStarted, events[0].Type)
	assert.Equal(t, history.WorkflowExecutionCompleted, events[len(events)-1].Type)
}

func TestMemory_PreviousStartedEventID(t *testing.T) {
	m := newMemory()
	e := shippingEngine(t)
	runID, err := m.StartRun("order-1", "Shipping", "1", "")
	require.NoError(t, err)

	ctx := context.Background()
	first, err := m.PollForDecisionTask(ctx)
	require.NoError(t, err)
	assert.Zero(t, first.PreviousStartedEventID)
	batch, err := e.Decide(*first)
	require.NoError(t, err)
	require.NoError(t, m.RespondWithDecisions(ctx, first.TaskToken, batch))

	require.NoError(t, m.CompleteActivity(runID, "pack.1", ""))
	second, err := m.PollForDecisionTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.StartedEventID, second.PreviousStartedEventID)
	assert.Equal(t, second.StartedEventID, second.Events[0].ID, "events are newest first")
}

func TestMemory_EventsDuringTaskScheduleOneMore(t *testing.T) {
	m := newMemory()
	runID, err := m.StartRun("wf", "Shipping", "1", "")
	require.NoError(t, err)

	ctx := context.Background()
	task, err := m.PollForDecisionTask(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Signal(runID, "a", ""))
	require.NoError(t, m.Signal(runID, "b", ""))
	assert.Zero(t, m.PendingTasks(), "no second task while one is in flight")

	require.NoError(t, m.RespondWithDecisions(ctx, task.TaskToken, nil))
	assert.Equal(t, 1, m.PendingTasks())
}

func TestMemory_PollTimeout(t *testing.T) {
	m := newMemory()
	task, err := m.PollForDecisionTask(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, task)
}

func TestMemory_PollCancelled(t *testing.T) {
	m := NewMemory(WithMemoryLogger(quiet()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.PollForDecisionTask(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_UnknownToken(t *testing.T) {
	m := newMemory()
	err := m.RespondWithDecisions(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTaskToken)
}

func TestMemory_DuplicateOpenRun(t *testing.T) {
	m := newMemory()
	_, err := m.StartRun("wf", "Shipping", "1", "")
	require.NoError(t, err)
	_, err = m.StartRun("wf", "Shipping", "1", "")
	assert.ErrorContains(t, err, "already open")
}

func TestMemory_DriversRejectUnknownWork(t *testing.T) {
	m := newMemory()
	runID, err := m.StartRun("wf", "Shipping", "1", "")
	require.NoError(t, err)

	assert.Error(t, m.CompleteActivity(runID, "ghost.1", ""))
	assert.Error(t, m.FireTimer(runID, "ghost"))
	assert.Error(t, m.CompleteLambda(runID, "ghost", ""))
	assert.Error(t, m.CompleteChild(runID, "ghost", ""))
	assert.Error(t, m.Signal("no-such-run", "x", ""))
}

func TestMemory_AppliesDecisions(t *testing.T) {
	m := newMemory()
	ctx := context.Background()
	other, err := m.StartRun("other", "Other", "1", "")
	require.NoError(t, err)
	runID, err := m.StartRun("wf", "Shipping", "1", "")
	require.NoError(t, err)

	// Drain the other run's first task so only signal-driven tasks remain.
	task, err := m.PollForDecisionTask(ctx)
	require.NoError(t, err)
	require.Equal(t, other, task.RunID)
	require.NoError(t, m.RespondWithDecisions(ctx, task.TaskToken, nil))

	task, err = m.PollForDecisionTask(ctx)
	require.NoError(t, err)
	require.Equal(t, runID, task.RunID)
	require.NoError(t, m.RespondWithDecisions(ctx, task.TaskToken, []decision.Decision{
		decision.ScheduleTimer{TimerID: "t", Delay: time.Minute, Control: decision.TimerControl{TimerName: "t", TimerType: decision.TimerItem}},
		decision.RecordMarker{Name: "audit", Details: "x"},
		decision.SignalWorkflow{WorkflowID: "other", SignalName: "ping"},
		decision.SignalWorkflow{WorkflowID: "missing", SignalName: "ping"},
		decision.WorkflowItemSignalled{ScheduleID: "t", TriggerEventID: 3, SignalName: "go", SignalEventID: 4},
	}))

	events, _ := m.History(runID)
	types := make([]history.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []history.EventType{
		history.WorkflowExecutionStarted,
		history.DecisionTaskScheduled,
		history.DecisionTaskStarted,
		history.DecisionTaskCompleted,
		history.TimerStarted,
		history.MarkerRecorded,
		history.SignalExternalWorkflowExecutionInitiated,
		history.ExternalWorkflowExecutionSignaled,
		history.SignalExternalWorkflowExecutionInitiated,
		history.SignalExternalWorkflowExecutionFailed,
		history.DecisionTaskScheduled,
		history.MarkerRecorded,
	}, types)
	assert.Equal(t, decision.SignalledMarkerName, events[len(events)-1].MarkerName)

	otherEvents, _ := m.History(other)
	last := otherEvents[len(otherEvents)-2]
	assert.Equal(t, history.WorkflowExecutionSignaled, last.Type)
	assert.Equal(t, "wf", last.ExternalWorkflowID)
	assert.Equal(t, runID, last.ExternalRunID)
}

func TestMemory_RepeatedTimedWait(t *testing.T) {
	m := newMemory()
	b := engine.NewBuilder("Polling", "1")
	b.Activity("Poll", "1", "").OnCompletion(func(ev *engine.ItemEvent) engine.Action {
		return ev.WaitForSignal("again").For(time.Hour).ThenReschedule()
	})
	w, err := b.Build()
	require.NoError(t, err)
	e := engine.New(engine.WithLogger(quiet()))
	require.NoError(t, e.Register(w))

	runID, err := m.StartRun("poll-1", "Polling", "1", "")
	require.NoError(t, err)
	pollDecide(t, m, e)

	require.NoError(t, m.CompleteActivity(runID, "poll.1", ""))
	pollDecide(t, m, e)
	assert.ElementsMatch(t, []string{"timer:poll.1"}, m.Outstanding(runID))

	require.NoError(t, m.Signal(runID, "again", ""))
	pollDecide(t, m, e)
	require.NoError(t, m.CompleteActivity(runID, "poll.1", ""))
	batch := pollDecide(t, m, e)
	require.Len(t, batch, 3)
	assert.Equal(t, decision.CancelTimer{TimerID: "poll.1"}, batch[1])
	assert.Equal(t, decision.TypeScheduleTimer, batch[2].Type())

	events, _ := m.History(runID)
	var types []history.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, history.TimerCanceled)
	assert.NotContains(t, types, history.StartTimerFailed)
	assert.Equal(t, []string{"timer:poll.1"}, m.Outstanding(runID))

	require.NoError(t, m.FireTimer(runID, "poll.1"))
	pollDecide(t, m, e)
	assert.Equal(t, history.WorkflowExecutionCompleted, m.CloseStatus(runID))
}

func TestMemory_CloseWakesPollers(t *testing.T) {
	m := NewMemory(WithMemoryLogger(quiet()))
	done := make(chan error, 1)
	go func() {
		_, err := m.PollForDecisionTask(context.Background())
		done <- err
	}()
	m.Close()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("poll did not return after Close")
	}
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)

	id, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestWorkerIdentity(t *testing.T) {
	assert.Equal(t, "decider-id-1", WorkerIdentity("decider", testutil.NewSequenceGenerator("id")))
	assert.Regexp(t, `^guflow-`, WorkerIdentity("", nil))
}
