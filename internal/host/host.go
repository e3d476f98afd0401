// Package host runs the decision loop: poll a backend for decision tasks,
// decide them with the engine, respond, and record what was decided.
//
// A task whose decision aborts is never answered. The backend times it out
// and redelivers it, so a fixed deployment can pick the run up again. The
// aborted attempt is still recorded, with its error, for later replay.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/guflow/internal/backend"
	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/store"
)

// Decider computes the decision batch for a task.
type Decider interface {
	Decide(task history.DecisionTask) ([]decision.Decision, error)
}

// Config controls the poll loop.
type Config struct {
	// Pollers is the number of concurrent poll loops.
	Pollers int

	// PollBackoff is the pause after a failed poll or respond.
	PollBackoff time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{Pollers: 2, PollBackoff: time.Second}
}

// Stats counts what the host has done since it was created.
type Stats struct {
	Decided int64 `json:"decided"`
	Aborted int64 `json:"aborted"`
	Failed  int64 `json:"failed"`
}

// Host drives a backend with a decider.
type Host struct {
	backend   backend.Backend
	decider   Decider
	recorders []store.Recorder
	cfg       Config
	log       *slog.Logger
	now       func() time.Time

	decided atomic.Int64
	aborted atomic.Int64
	failed  atomic.Int64
}

// Option configures a Host.
type Option func(*Host)

// WithConfig replaces the default Config.
func WithConfig(cfg Config) Option {
	return func(h *Host) { h.cfg = cfg }
}

// WithRecorder records every decided task to r. May be given more than once.
func WithRecorder(r store.Recorder) Option {
	return func(h *Host) { h.recorders = append(h.recorders, r) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.log = l }
}

// WithNow sets the clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// New creates a Host.
func New(b backend.Backend, d Decider, opts ...Option) *Host {
	h := &Host{
		backend: b,
		decider: d,
		cfg:     DefaultConfig(),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cfg.Pollers < 1 {
		h.cfg.Pollers = 1
	}
	return h
}

// Stats returns a snapshot of the counters.
func (h *Host) Stats() Stats {
	return Stats{
		Decided: h.decided.Load(),
		Aborted: h.aborted.Load(),
		Failed:  h.failed.Load(),
	}
}

// RunOnce handles at most one decision task. It reports whether a task was
// polled. An aborted decision is not an error: it is logged, counted and
// recorded.
func (h *Host) RunOnce(ctx context.Context) (bool, error) {
	task, err := h.backend.PollForDecisionTask(ctx)
	if err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}
	if task == nil {
		return false, nil
	}
	log := h.log.With(
		"workflow", task.WorkflowName,
		"workflow_id", task.WorkflowID,
		"run_id", task.RunID,
		"started_event_id", task.StartedEventID)

	batch, decideErr := h.decider.Decide(*task)
	if decideErr != nil {
		h.aborted.Add(1)
		log.Error("decision task aborted, leaving it to time out", "error", decideErr)
		h.record(ctx, log, *task, nil, decideErr)
		return true, nil
	}

	if err := h.backend.RespondWithDecisions(ctx, task.TaskToken, batch); err != nil {
		h.failed.Add(1)
		return true, fmt.Errorf("respond %s/%s: %w", task.WorkflowID, task.RunID, err)
	}
	h.decided.Add(1)
	log.Debug("decision task completed", "decisions", len(batch))
	h.record(ctx, log, *task, batch, nil)
	return true, nil
}

// record writes the task to every recorder. Failures are logged only.
func (h *Host) record(ctx context.Context, log *slog.Logger, task history.DecisionTask, batch []decision.Decision, decideErr error) {
	if len(h.recorders) == 0 {
		return
	}
	rec, err := store.NewTaskRecord(task, batch, decideErr, h.now())
	if err != nil {
		log.Warn("decision task not recorded", "error", err)
		return
	}
	for _, r := range h.recorders {
		if err := r.RecordTask(ctx, rec); err != nil {
			log.Warn("decision task not recorded", "error", err)
		}
	}
}

// Run polls with cfg.Pollers concurrent loops until ctx is done. It returns
// nil on cancellation.
func (h *Host) Run(ctx context.Context) error {
	h.log.Info("host starting", "pollers", h.cfg.Pollers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range h.cfg.Pollers {
		g.Go(func() error { return h.loop(gctx, i) })
	}
	err := g.Wait()
	h.log.Info("host stopped",
		"decided", h.decided.Load(),
		"aborted", h.aborted.Load(),
		"failed", h.failed.Load())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (h *Host) loop(ctx context.Context, poller int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := h.RunOnce(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.log.Warn("poll loop error", "poller", poller, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.cfg.PollBackoff):
		}
	}
}
