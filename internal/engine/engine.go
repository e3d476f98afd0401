package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
)

type options struct {
	logger     *slog.Logger
	clock      Clock
	completion string
	workflowID string
	runID      string
}

// Option configures replays and the Engine.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:     slog.Default(),
		clock:      SystemClock{},
		completion: CompletedResult,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the clock used when a history carries no timestamps.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithDefaultCompletion sets the result of a workflow that completes
// because all of its items are done.
func WithDefaultCompletion(result string) Option {
	return func(o *options) {
		o.completion = result
	}
}

// WithRun identifies the run being replayed. Child workflow ids are scoped
// by the run id.
func WithRun(workflowID, runID string) Option {
	return func(o *options) {
		o.workflowID = workflowID
		o.runID = runID
	}
}

// Engine decides decision tasks for a set of registered workflows.
//
// Thread-safety: Register must not race with Decide; Decide may be called
// concurrently since every call replays into its own state.
type Engine struct {
	mu        sync.RWMutex
	workflows map[workflowKey]*Workflow
	opts      []Option
	log       *slog.Logger
}

type workflowKey struct {
	name    string
	version string
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	return &Engine{
		workflows: make(map[workflowKey]*Workflow),
		opts:      opts,
		log:       newOptions(opts).logger,
	}
}

// Register adds workflows, keyed by name and version.
func (e *Engine) Register(ws ...*Workflow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range ws {
		k := workflowKey{name: w.name, version: w.version}
		if _, dup := e.workflows[k]; dup {
			return fmt.Errorf("workflow %s(%s) already registered", w.name, w.version)
		}
		e.workflows[k] = w
	}
	return nil
}

// Lookup returns the registered workflow for a type.
func (e *Engine) Lookup(name, version string) (*Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workflows[workflowKey{name: name, version: version}]
	return w, ok
}

// Decide computes the decision batch for a task of a registered workflow.
func (e *Engine) Decide(task history.DecisionTask) ([]decision.Decision, error) {
	w, ok := e.Lookup(task.WorkflowName, task.WorkflowVersion)
	if !ok {
		return nil, fmt.Errorf("decide %s: workflow %s(%s) is not registered",
			task.RunID, task.WorkflowName, task.WorkflowVersion)
	}
	return e.DecideFor(task, w)
}

// DecideFor computes the decision batch for a task against w.
func (e *Engine) DecideFor(task history.DecisionTask, w *Workflow) ([]decision.Decision, error) {
	h := FromDecisionTask(task, e.opts...)
	batch, err := h.InterpretNewEventsFor(w)
	if err != nil {
		e.log.Error("decision task aborted",
			"workflow", w.name,
			"workflow_id", task.WorkflowID,
			"run_id", task.RunID,
			"error", err)
		return nil, err
	}
	e.log.Info("decision task",
		"workflow", w.name,
		"workflow_id", task.WorkflowID,
		"run_id", task.RunID,
		"new_events", len(h.NewEvents()),
		"decisions", len(batch))
	return batch, nil
}
