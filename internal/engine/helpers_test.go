package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/ir"
	"github.com/roach88/guflow/internal/testutil"
)

var (
	downloadID = ir.NewIdentity("Download", "1.0", "")
	resizeID   = ir.NewIdentity("Resize", "1.0", "")
	uploadID   = ir.NewIdentity("Upload", "1.0", "")
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustBuild(t *testing.T, b *Builder) *Workflow {
	t.Helper()
	w, err := b.Build()
	require.NoError(t, err)
	return w
}

// decide replays h against w, treating events up to prev as handled.
func decide(t *testing.T, w *Workflow, h *testutil.History, prev int64, opts ...Option) []decision.Decision {
	t.Helper()
	out, err := decideErr(w, h, prev, opts...)
	require.NoError(t, err)
	return out
}

func decideErr(w *Workflow, h *testutil.History, prev int64, opts ...Option) ([]decision.Decision, error) {
	opts = append([]Option{WithLogger(quietLogger()), WithRun("wf-1", "run-1")}, opts...)
	return NewWorkflowHistoryEvents(h.Events(), prev, opts...).InterpretNewEventsFor(w)
}

// started writes the first decision task of a run and returns the id of
// its DecisionTaskStarted event.
func started(h *testutil.History, input string) int64 {
	h.WorkflowStarted(input)
	return h.DecisionStarted()
}

func scheduleActivity(id ir.Identity) decision.ScheduleActivity {
	return decision.ScheduleActivity{
		ActivityID: id.ScheduleID().String(),
		Name:       id.Name(),
		Version:    id.Version(),
	}
}

func completed() decision.CompleteWorkflow {
	return decision.CompleteWorkflow{Result: CompletedResult}
}

// pipeline declares Download -> Resize -> Upload.
func pipeline() *Builder {
	b := NewBuilder("Pipeline", "1")
	b.Activity("Download", "1.0", "")
	b.Activity("Resize", "1.0", "").DependsOn(downloadID)
	b.Activity("Upload", "1.0", "").DependsOn(resizeID)
	return b
}
