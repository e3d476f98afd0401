package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
)

// Memory is an in-process coordination service. It keeps each run's
// history, hands out one decision task per run at a time and turns the
// returned decisions into history events the way the real service does.
//
// Activities, lambdas, timers and child runs never progress on their own:
// tests drive them with CompleteActivity, FireTimer, Signal and friends,
// each of which schedules a decision task.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	runs   map[string]*memRun
	tokens map[string]string
	queue  *taskQueue
	ids    IDGenerator
	now    func() time.Time
	poll   time.Duration
	log    *slog.Logger
}

var _ Backend = (*Memory)(nil)

type memRun struct {
	workflowID string
	runID      string
	name       string
	version    string
	events     []history.Event

	previousStarted   int64
	decisionScheduled int64
	inFlight          bool
	needsDecision     bool
	closed            history.EventType

	activities map[string]int64
	lambdas    map[string]int64
	timers     map[string]int64
	children   map[string]int64
}

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithIDs sets the generator for run ids and task tokens. Default: UUIDv7.
func WithIDs(g IDGenerator) MemoryOption {
	return func(m *Memory) {
		if g != nil {
			m.ids = g
		}
	}
}

// WithNow sets the event timestamp source. Default: time.Now in UTC.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPollTimeout makes polls return an empty result after d, like a long
// poll that saw no work. Zero waits until the context is done.
func WithPollTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) { m.poll = d }
}

// WithMemoryLogger sets the logger. Default: slog.Default().
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMemory creates an empty backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		runs:   make(map[string]*memRun),
		tokens: make(map[string]string),
		queue:  newTaskQueue(),
		ids:    UUIDv7Generator{},
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close stops handing out tasks. Blocked polls return.
func (m *Memory) Close() {
	m.queue.Close()
}

// StartRun starts a run of a workflow type and schedules its first
// decision task. It returns the run id.
func (m *Memory) StartRun(workflowID, name, version, input string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.workflowID == workflowID && r.closed == "" {
			return "", fmt.Errorf("start run: workflow %s is already open (run %s)", workflowID, r.runID)
		}
	}
	r := &memRun{
		workflowID: workflowID,
		runID:      m.ids.Generate(),
		name:       name,
		version:    version,
		activities: make(map[string]int64),
		lambdas:    make(map[string]int64),
		timers:     make(map[string]int64),
		children:   make(map[string]int64),
	}
	m.runs[r.runID] = r
	m.append(r, history.WorkflowExecutionStarted, history.Attributes{
		WorkflowName:    name,
		WorkflowVersion: version,
		Input:           input,
	})
	m.scheduleDecision(r)
	m.log.Debug("run started", "workflow", name, "workflow_id", workflowID, "run_id", r.runID)
	return r.runID, nil
}

// PollForDecisionTask returns the next decision task.
func (m *Memory) PollForDecisionTask(ctx context.Context) (*history.DecisionTask, error) {
	if m.poll > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.poll)
		defer cancel()
	}
	for {
		runID, err := m.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && m.poll > 0 && ctx.Err() != nil {
				return nil, nil
			}
			return nil, err
		}
		if task := m.startDecision(runID); task != nil {
			return task, nil
		}
	}
}

func (m *Memory) startDecision(runID string) *history.DecisionTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok || r.closed != "" || r.decisionScheduled == 0 {
		return nil
	}
	started := m.append(r, history.DecisionTaskStarted, history.Attributes{ScheduledEventID: r.decisionScheduled})
	r.decisionScheduled = 0
	r.inFlight = true

	token := m.ids.Generate()
	m.tokens[token] = runID
	return &history.DecisionTask{
		TaskToken:              token,
		WorkflowID:             r.workflowID,
		RunID:                  r.runID,
		WorkflowName:           r.name,
		WorkflowVersion:        r.version,
		Events:                 history.NewestFirst(r.events),
		PreviousStartedEventID: r.previousStarted,
		StartedEventID:         started,
	}
}

// RespondWithDecisions completes a decision task and appends the events
// the decisions cause.
func (m *Memory) RespondWithDecisions(_ context.Context, taskToken string, decisions []decision.Decision) error {
	wire, err := decision.Wire(decisions)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	runID, ok := m.tokens[taskToken]
	if !ok {
		return ErrUnknownTaskToken
	}
	delete(m.tokens, taskToken)
	r := m.runs[runID]

	started := m.lastStarted(r)
	m.append(r, history.DecisionTaskCompleted, history.Attributes{StartedEventID: started})
	r.previousStarted = started
	r.inFlight = false

	for _, d := range wire {
		if r.closed != "" {
			break
		}
		m.apply(r, d)
	}
	if r.needsDecision && r.closed == "" {
		r.needsDecision = false
		m.scheduleDecision(r)
	}
	return nil
}

func (m *Memory) apply(r *memRun, d decision.Decision) {
	switch d := d.(type) {
	case decision.ScheduleActivity:
		id := m.append(r, history.ActivityTaskScheduled, history.Attributes{
			ActivityID:      d.ActivityID,
			ActivityName:    d.Name,
			ActivityVersion: d.Version,
			TaskList:        d.TaskList,
			Input:           d.Input,
			Control:         d.Control,
		})
		r.activities[d.ActivityID] = id

	case decision.ScheduleLambda:
		id := m.append(r, history.LambdaFunctionScheduled, history.Attributes{
			LambdaID:   d.LambdaID,
			LambdaName: d.Name,
			Input:      d.Input,
		})
		r.lambdas[d.LambdaID] = id

	case decision.StartChildWorkflow:
		id := m.append(r, history.StartChildWorkflowExecutionInitiated, history.Attributes{
			WorkflowID:      d.WorkflowID,
			WorkflowName:    d.Name,
			WorkflowVersion: d.Version,
			TaskList:        d.TaskList,
			Input:           d.Input,
			Control:         d.Control,
		})
		r.children[d.WorkflowID] = id
		m.append(r, history.ChildWorkflowExecutionStarted, history.Attributes{
			InitiatedEventID: id,
			WorkflowID:       d.WorkflowID,
			RunID:            m.ids.Generate(),
		})
		m.scheduleDecision(r)

	case decision.ScheduleTimer:
		control, err := d.Control.Encode()
		if err != nil {
			m.append(r, history.StartTimerFailed, history.Attributes{TimerID: d.TimerID, Cause: "OPERATION_NOT_PERMITTED"})
			m.scheduleDecision(r)
			return
		}
		if _, open := r.timers[d.TimerID]; open {
			m.append(r, history.StartTimerFailed, history.Attributes{TimerID: d.TimerID, Cause: "TIMER_ID_ALREADY_IN_USE"})
			m.scheduleDecision(r)
			return
		}
		id := m.append(r, history.TimerStarted, history.Attributes{
			TimerID:            d.TimerID,
			StartToFireSeconds: int64(d.Delay / time.Second),
			Control:            control,
		})
		r.timers[d.TimerID] = id

	case decision.CancelActivity:
		m.append(r, history.ActivityTaskCancelRequested, history.Attributes{ActivityID: d.ActivityID})
		if sched, open := r.activities[d.ActivityID]; open {
			delete(r.activities, d.ActivityID)
			m.append(r, history.ActivityTaskCanceled, history.Attributes{ScheduledEventID: sched})
		} else {
			m.append(r, history.RequestCancelActivityTaskFailed, history.Attributes{ActivityID: d.ActivityID, Cause: "ACTIVITY_ID_UNKNOWN"})
		}
		m.scheduleDecision(r)

	case decision.CancelTimer:
		if started, open := r.timers[d.TimerID]; open {
			delete(r.timers, d.TimerID)
			m.append(r, history.TimerCanceled, history.Attributes{TimerID: d.TimerID, StartedEventID: started})
			return
		}
		m.append(r, history.CancelTimerFailed, history.Attributes{TimerID: d.TimerID, Cause: "TIMER_ID_UNKNOWN"})
		m.scheduleDecision(r)

	case decision.CompleteWorkflow:
		m.close(r, history.WorkflowExecutionCompleted, history.Attributes{Result: d.Result})

	case decision.FailWorkflow:
		m.close(r, history.WorkflowExecutionFailed, history.Attributes{Reason: d.Reason, Details: d.Details})

	case decision.CancelWorkflow:
		m.close(r, history.WorkflowExecutionCanceled, history.Attributes{Details: d.Details})

	case decision.SignalWorkflow:
		initiated := m.append(r, history.SignalExternalWorkflowExecutionInitiated, history.Attributes{
			WorkflowID: d.WorkflowID,
			RunID:      d.RunID,
			SignalName: d.SignalName,
			Input:      d.Input,
		})
		target := m.openRun(d.WorkflowID, d.RunID)
		if target == nil {
			m.append(r, history.SignalExternalWorkflowExecutionFailed, history.Attributes{
				InitiatedEventID: initiated,
				WorkflowID:       d.WorkflowID,
				Cause:            "UNKNOWN_EXTERNAL_WORKFLOW_EXECUTION",
			})
			m.scheduleDecision(r)
			return
		}
		m.append(target, history.WorkflowExecutionSignaled, history.Attributes{
			SignalName:         d.SignalName,
			Input:              d.Input,
			ExternalWorkflowID: r.workflowID,
			ExternalRunID:      r.runID,
		})
		m.scheduleDecision(target)
		m.append(r, history.ExternalWorkflowExecutionSignaled, history.Attributes{
			InitiatedEventID: initiated,
			WorkflowID:       target.workflowID,
			RunID:            target.runID,
		})

	case decision.CancelRequestWorkflow:
		initiated := m.append(r, history.RequestCancelExternalWorkflowExecutionInitiated, history.Attributes{
			WorkflowID: d.WorkflowID,
			RunID:      d.RunID,
		})
		target := m.openRun(d.WorkflowID, d.RunID)
		if target == nil {
			m.append(r, history.RequestCancelExternalWorkflowExecutionFailed, history.Attributes{
				InitiatedEventID: initiated,
				WorkflowID:       d.WorkflowID,
				Cause:            "UNKNOWN_EXTERNAL_WORKFLOW_EXECUTION",
			})
			m.scheduleDecision(r)
			return
		}
		m.append(target, history.WorkflowExecutionCancelRequested, history.Attributes{
			ExternalWorkflowID: r.workflowID,
			ExternalRunID:      r.runID,
		})
		m.scheduleDecision(target)
		m.append(r, history.ExternalWorkflowExecutionCancelRequested, history.Attributes{
			InitiatedEventID: initiated,
			WorkflowID:       target.workflowID,
			RunID:            target.runID,
		})

	case decision.RecordMarker:
		m.append(r, history.MarkerRecorded, history.Attributes{MarkerName: d.Name, Details: d.Details})

	default:
		m.log.Warn("unsupported decision ignored", "type", string(d.Type()), "run_id", r.runID)
	}
}

// CompleteActivity completes a scheduled activity.
func (m *Memory) CompleteActivity(runID, activityID, result string) error {
	return m.finishActivity(runID, activityID, history.ActivityTaskCompleted, history.Attributes{Result: result})
}

// FailActivity fails a scheduled activity.
func (m *Memory) FailActivity(runID, activityID, reason, details string) error {
	return m.finishActivity(runID, activityID, history.ActivityTaskFailed, history.Attributes{Reason: reason, Details: details})
}

// TimeOutActivity times out a scheduled activity.
func (m *Memory) TimeOutActivity(runID, activityID, timeoutType string) error {
	return m.finishActivity(runID, activityID, history.ActivityTaskTimedOut, history.Attributes{TimeoutType: timeoutType})
}

func (m *Memory) finishActivity(runID, activityID string, t history.EventType, attrs history.Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.open(runID)
	if err != nil {
		return err
	}
	sched, ok := r.activities[activityID]
	if !ok {
		return fmt.Errorf("run %s: activity %q is not scheduled", runID, activityID)
	}
	delete(r.activities, activityID)
	started := m.append(r, history.ActivityTaskStarted, history.Attributes{ScheduledEventID: sched})
	attrs.ScheduledEventID = sched
	attrs.StartedEventID = started
	m.append(r, t, attrs)
	m.scheduleDecision(r)
	return nil
}

// CompleteLambda completes a scheduled lambda function.
func (m *Memory) CompleteLambda(runID, lambdaID, result string) error {
	return m.finishLambda(runID, lambdaID, history.LambdaFunctionCompleted, history.Attributes{Result: result})
}

// FailLambda fails a scheduled lambda function.
func (m *Memory) FailLambda(runID, lambdaID, reason, details string) error {
	return m.finishLambda(runID, lambdaID, history.LambdaFunctionFailed, history.Attributes{Reason: reason, Details: details})
}

func (m *Memory) finishLambda(runID, lambdaID string, t history.EventType, attrs history.Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.open(runID)
	if err != nil {
		return err
	}
	sched, ok := r.lambdas[lambdaID]
	if !ok {
		return fmt.Errorf("run %s: lambda %q is not scheduled", runID, lambdaID)
	}
	delete(r.lambdas, lambdaID)
	started := m.append(r, history.LambdaFunctionStarted, history.Attributes{ScheduledEventID: sched})
	attrs.ScheduledEventID = sched
	attrs.StartedEventID = started
	m.append(r, t, attrs)
	m.scheduleDecision(r)
	return nil
}

// CompleteChild completes a started child workflow.
func (m *Memory) CompleteChild(runID, childWorkflowID, result string) error {
	return m.finishChild(runID, childWorkflowID, history.ChildWorkflowExecutionCompleted, history.Attributes{Result: result})
}

// FailChild fails a started child workflow.
func (m *Memory) FailChild(runID, childWorkflowID, reason, details string) error {
	return m.finishChild(runID, childWorkflowID, history.ChildWorkflowExecutionFailed, history.Attributes{Reason: reason, Details: details})
}

func (m *Memory) finishChild(runID, childWorkflowID string, t history.EventType, attrs history.Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.open(runID)
	if err != nil {
		return err
	}
	initiated, ok := r.children[childWorkflowID]
	if !ok {
		return fmt.Errorf("run %s: child %q is not started", runID, childWorkflowID)
	}
	delete(r.children, childWorkflowID)
	attrs.InitiatedEventID = initiated
	attrs.WorkflowID = childWorkflowID
	m.append(r, t, attrs)
	m.scheduleDecision(r)
	return nil
}

// FireTimer fires a started timer.
func (m *Memory) FireTimer(runID, timerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.open(runID)
	if err != nil {
		return err
	}
	started, ok := r.timers[timerID]
	if !ok {
		return fmt.Errorf("run %s: timer %q is not started", runID, timerID)
	}
	delete(r.timers, timerID)
	m.append(r, history.TimerFired, history.Attributes{TimerID: timerID, StartedEventID: started})
	m.scheduleDecision(r)
	return nil
}

// Signal delivers an external signal to a run.
func (m *Memory) Signal(runID, name, input string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.open(runID)
	if err != nil {
		return err
	}
	m.append(r, history.WorkflowExecutionSignaled, history.Attributes{SignalName: name, Input: input})
	m.scheduleDecision(r)
	return nil
}

// RequestCancel asks a run to cancel itself.
func (m *Memory) RequestCancel(runID, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.open(runID)
	if err != nil {
		return err
	}
	m.append(r, history.WorkflowExecutionCancelRequested, history.Attributes{Cause: cause})
	m.scheduleDecision(r)
	return nil
}

// History returns a copy of a run's events, oldest first.
func (m *Memory) History(runID string) ([]history.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, false
	}
	return slices.Clone(r.events), true
}

// CloseStatus returns the closing event type of a run, or "" while it is
// open.
func (m *Memory) CloseStatus(runID string) history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		return r.closed
	}
	return ""
}

// Outstanding reports the scheduled activities, lambdas, timers and child
// workflows that have not finished.
func (m *Memory) Outstanding(runID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil
	}
	var out []string
	for id := range r.activities {
		out = append(out, "activity:"+id)
	}
	for id := range r.lambdas {
		out = append(out, "lambda:"+id)
	}
	for id := range r.timers {
		out = append(out, "timer:"+id)
	}
	for id := range r.children {
		out = append(out, "child:"+id)
	}
	slices.Sort(out)
	return out
}

// PendingTasks returns the number of decision tasks waiting for a poller.
func (m *Memory) PendingTasks() int {
	return m.queue.Len()
}

// open must be called with mu held.
func (m *Memory) open(runID string) (*memRun, error) {
	r, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("unknown run %s", runID)
	}
	if r.closed != "" {
		return nil, fmt.Errorf("run %s is closed (%s)", runID, r.closed)
	}
	return r, nil
}

// openRun finds an open run by workflow id and optional run id.
func (m *Memory) openRun(workflowID, runID string) *memRun {
	for _, r := range m.runs {
		if r.workflowID != workflowID || r.closed != "" {
			continue
		}
		if runID == "" || r.runID == runID {
			return r
		}
	}
	return nil
}

func (m *Memory) close(r *memRun, t history.EventType, attrs history.Attributes) {
	m.append(r, t, attrs)
	r.closed = t
	r.needsDecision = false
	m.log.Debug("run closed", "workflow_id", r.workflowID, "run_id", r.runID, "status", string(t))
}

// scheduleDecision queues a decision task unless one is already pending.
// While a task is in flight the new task is deferred to its response.
func (m *Memory) scheduleDecision(r *memRun) {
	if r.closed != "" || r.decisionScheduled != 0 {
		return
	}
	if r.inFlight {
		r.needsDecision = true
		return
	}
	r.decisionScheduled = m.append(r, history.DecisionTaskScheduled, history.Attributes{})
	m.queue.Enqueue(r.runID)
}

func (m *Memory) lastStarted(r *memRun) int64 {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == history.DecisionTaskStarted {
			return r.events[i].ID
		}
	}
	return 0
}

func (m *Memory) append(r *memRun, t history.EventType, attrs history.Attributes) int64 {
	id := int64(len(r.events) + 1)
	r.events = append(r.events, history.Event{ID: id, Type: t, Timestamp: m.now(), Attributes: attrs})
	return id
}
