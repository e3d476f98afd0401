package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/guflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	StoreOptions
	WorkflowID string
	RunID      string // optional: all runs of the workflow when empty
	Decision   string // optional: only decisions of this type
}

// TraceTask is one recorded decision task.
type TraceTask struct {
	StartedEventID         int64            `json:"started_event_id"`
	PreviousStartedEventID int64            `json:"previous_started_event_id"`
	Decisions              []map[string]any `json:"decisions"`
	Error                  string           `json:"error,omitempty"`
	EngineVersion          string           `json:"engine_version"`
}

// TraceRun is the task timeline of one run.
type TraceRun struct {
	WorkflowID string      `json:"workflow_id"`
	RunID      string      `json:"run_id"`
	Workflow   string      `json:"workflow"`
	Tasks      []TraceTask `json:"tasks"`
	Stats      TraceStats  `json:"stats"`
}

// TraceStats summarizes a run's timeline.
type TraceStats struct {
	Tasks     int `json:"tasks"`
	Decisions int `json:"decisions"`
	Aborted   int `json:"aborted"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded decision tasks of a workflow",
		Long: `Show the decision tasks recorded for a workflow: for each task, the
history range it saw and the decisions it answered with, or the error
that aborted it.

Examples:
  guflow trace --db ./guflow.db --workflow-id order-42
  guflow trace --db ./guflow.db --workflow-id order-42 --decision ScheduleTimer
  guflow trace --redis localhost:6379 --workflow-id order-42 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.WorkflowID, "workflow-id", "", "workflow id to trace (required)")
	_ = cmd.MarkFlagRequired("workflow-id")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "trace one run only")
	cmd.Flags().StringVar(&opts.Decision, "decision", "", "show only decisions of this type")
	opts.StoreOptions.addFlags(cmd)

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !opts.configured() {
		return NewExitError(ExitCommandError, "no task store: set --db or --redis")
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := opts.open(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open task store", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	out := []TraceRun{}
	for _, run := range runs {
		if run.WorkflowID != opts.WorkflowID || (opts.RunID != "" && run.RunID != opts.RunID) {
			continue
		}
		records, err := st.ReadTasks(ctx, run.WorkflowID, run.RunID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read tasks", err)
		}
		tr, err := buildTraceRun(run, records, opts.Decision)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to decode tasks", err)
		}
		out = append(out, tr)
	}

	if len(out) == 0 {
		msg := fmt.Sprintf("no recorded runs for workflow %s", opts.WorkflowID)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	outputTraceText(formatter, out)
	return nil
}

func buildTraceRun(run store.RunRef, records []store.TaskRecord, only string) (TraceRun, error) {
	tr := TraceRun{
		WorkflowID: run.WorkflowID,
		RunID:      run.RunID,
		Workflow:   fmt.Sprintf("%s(%s)", run.WorkflowName, run.WorkflowVersion),
		Tasks:      []TraceTask{},
	}
	for _, rec := range records {
		task := TraceTask{
			StartedEventID:         rec.StartedEventID,
			PreviousStartedEventID: rec.PreviousStartedEventID,
			Decisions:              []map[string]any{},
			Error:                  rec.Error,
			EngineVersion:          rec.EngineVersion,
		}
		for _, line := range rec.Decisions {
			var d map[string]any
			if err := json.Unmarshal([]byte(line), &d); err != nil {
				return TraceRun{}, fmt.Errorf("task %d: %w", rec.StartedEventID, err)
			}
			if only != "" && !strings.EqualFold(fmt.Sprint(d["type"]), only) {
				continue
			}
			task.Decisions = append(task.Decisions, d)
		}
		tr.Stats.Tasks++
		tr.Stats.Decisions += len(task.Decisions)
		if rec.Error != "" {
			tr.Stats.Aborted++
		}
		tr.Tasks = append(tr.Tasks, task)
	}
	return tr, nil
}

func outputTraceText(formatter *OutputFormatter, runs []TraceRun) {
	w := formatter.Writer
	for _, run := range runs {
		fmt.Fprintf(w, "Run %s/%s %s\n", run.WorkflowID, run.RunID, run.Workflow)
		for _, task := range run.Tasks {
			fmt.Fprintf(w, "  task %d (events %d..%d)\n", task.StartedEventID, task.PreviousStartedEventID+1, task.StartedEventID)
			if task.Error != "" {
				fmt.Fprintf(w, "    aborted: %s\n", task.Error)
				continue
			}
			for _, d := range task.Decisions {
				fmt.Fprintf(w, "    %v\n", d["type"])
				formatter.VerboseLog("      %v", d)
			}
		}
		fmt.Fprintf(w, "  %d task(s), %d decision(s), %d aborted\n\n", run.Stats.Tasks, run.Stats.Decisions, run.Stats.Aborted)
	}
}
