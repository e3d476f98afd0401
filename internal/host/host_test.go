package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guflow/internal/backend"
	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/ir"
	"github.com/roach88/guflow/internal/store"
	"github.com/roach88/guflow/internal/testutil"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemory() *backend.Memory {
	return backend.NewMemory(
		backend.WithIDs(testutil.NewSequenceGenerator("run")),
		backend.WithMemoryLogger(quiet()),
		backend.WithPollTimeout(20*time.Millisecond),
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

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunOnce_DrivesRunAndRecords(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	e := shippingEngine(t)
	db := openStore(t)
	h := New(m, e, WithRecorder(db), WithLogger(quiet()), WithNow(testutil.NewClock(time.Time{}).Now))

	runID, err := m.StartRun("order-1", "Shipping", "1", "")
	require.NoError(t, err)

	polled, err := h.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, polled)
	require.NoError(t, m.CompleteActivity(runID, "pack.1", ""))

	_, err = h.RunOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, m.CompleteActivity(runID, "ship.1", ""))

	_, err = h.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, history.WorkflowExecutionCompleted, m.CloseStatus(runID))
	assert.Equal(t, Stats{Decided: 3}, h.Stats())

	recs, err := db.ReadTasks(ctx, "order-1", runID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Contains(t, recs[2].Decisions[0], `"CompleteWorkflow"`)

	mismatches, n, err := store.VerifyAll(ctx, db, e)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, mismatches)
}

func TestRunOnce_NoTask(t *testing.T) {
	h := New(newMemory(), shippingEngine(t), WithLogger(quiet()))
	polled, err := h.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, polled)
}

func TestRunOnce_AbortLeavesTaskUnanswered(t *testing.T) {
	ctx := context.Background()
	m := newMemory()
	db := openStore(t)
	h := New(m, shippingEngine(t), WithRecorder(db), WithLogger(quiet()))

	runID, err := m.StartRun("wf", "Unregistered", "1", "")
	require.NoError(t, err)

	polled, err := h.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, polled)
	assert.Equal(t, Stats{Aborted: 1}, h.Stats())

	events, _ := m.History(runID)
	assert.Equal(t, history.DecisionTaskStarted, events[len(events)-1].Type, "no DecisionTaskCompleted")

	recs, err := db.ReadTasks(ctx, "wf", runID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Error, "not registered")
	assert.Empty(t, recs[0].Decisions)
}

type failingBackend struct {
	backend.Backend
}

func (failingBackend) PollForDecisionTask(context.Context) (*history.DecisionTask, error) {
	return nil, errors.New("connection refused")
}

type rejectingBackend struct {
	*backend.Memory
}

func (rejectingBackend) RespondWithDecisions(context.Context, string, []decision.Decision) error {
	return errors.New("task token expired")
}

func TestRunOnce_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := New(failingBackend{}, shippingEngine(t), WithLogger(quiet())).RunOnce(ctx)
	assert.ErrorContains(t, err, "connection refused")

	m := newMemory()
	_, err = m.StartRun("wf", "Shipping", "1", "")
	require.NoError(t, err)
	h := New(rejectingBackend{m}, shippingEngine(t), WithLogger(quiet()))
	_, err = h.RunOnce(ctx)
	assert.ErrorContains(t, err, "task token expired")
	assert.Equal(t, Stats{Failed: 1}, h.Stats())
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	m := newMemory()
	h := New(m, shippingEngine(t),
		WithLogger(quiet()),
		WithConfig(Config{Pollers: 3, PollBackoff: 10 * time.Millisecond}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	runID, err := m.StartRun("order-1", "Shipping", "1", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"activity:pack.1"}, m.Outstanding(runID))
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.CompleteActivity(runID, "pack.1", ""))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"activity:ship.1"}, m.Outstanding(runID))
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.CompleteActivity(runID, "ship.1", ""))

	require.Eventually(t, func() bool {
		return m.CloseStatus(runID) == history.WorkflowExecutionCompleted
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int64(3), h.Stats().Decided)
}

func TestNew_ClampsPollers(t *testing.T) {
	h := New(newMemory(), shippingEngine(t), WithConfig(Config{}))
	assert.Equal(t, 1, h.cfg.Pollers)
}
