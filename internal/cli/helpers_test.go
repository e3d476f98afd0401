package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guflow/internal/backend"
	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/host"
	"github.com/roach88/guflow/internal/store"
	"github.com/roach88/guflow/internal/testutil"
)

const shippingCUE = `workflow: Shipping: {
	version:            "1"
	default_completion: "delivered"
	items: [{
		activity: "Pack"
		version:  "1"
	}, {
		activity:   "Ship"
		version:    "1"
		depends_on: ["Pack(1)"]
		input_from: "Pack(1)"
	}]
}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// workflowsDir returns a directory holding the Shipping declaration.
func workflowsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "shipping.cue", shippingCUE)
	return dir
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), cmd, args...)
}

func executeContext(t *testing.T, ctx context.Context, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordShippingRun drives one Shipping run to completion on the memory
// backend and records its three tasks in the SQLite store at dbPath.
func recordShippingRun(t *testing.T, dir, dbPath string) {
	t.Helper()
	ctx := context.Background()

	result, errs := LoadWorkflows(dir)
	require.Empty(t, errs)
	eng := engine.New(engine.WithLogger(quiet()))
	require.NoError(t, eng.Register(result.Workflows...))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	m := backend.NewMemory(
		backend.WithIDs(testutil.NewSequenceGenerator("run")),
		backend.WithMemoryLogger(quiet()),
		backend.WithPollTimeout(20*time.Millisecond),
	)
	defer m.Close()
	h := host.New(m, eng, host.WithRecorder(st), host.WithLogger(quiet()))

	runID, err := m.StartRun("order-1", "Shipping", "1", "")
	require.NoError(t, err)
	_, err = h.RunOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, m.CompleteActivity(runID, "pack.1", "box"))
	_, err = h.RunOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, m.CompleteActivity(runID, "ship.1", "sent"))
	_, err = h.RunOnce(ctx)
	require.NoError(t, err)
}
