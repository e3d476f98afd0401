package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	StoreOptions
	Workflows  []string
	WorkflowID string // optional: one workflow only
}

// ReplayRunResult is the replay outcome of one recorded run.
type ReplayRunResult struct {
	WorkflowID    string           `json:"workflow_id"`
	RunID         string           `json:"run_id"`
	Workflow      string           `json:"workflow"`
	Tasks         int              `json:"tasks"`
	Deterministic bool             `json:"deterministic"`
	Mismatches    []store.Mismatch `json:"mismatches,omitempty"`
}

// ReplayResult is the outcome of a replay command.
type ReplayResult struct {
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	TotalTasks       int               `json:"total_tasks"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded decision tasks and verify determinism",
		Long: `Decide every recorded decision task again with the current workflow
declarations and compare the result with the recorded decisions.

A mismatch means a declaration change would make running workflows
behave differently than they did when the task was first decided.

Exit codes:
  0 - Every task replays to the recorded decisions
  1 - One or more tasks differ
  2 - Command error (store not found, invalid declarations, etc.)

Examples:
  guflow replay --workflows ./workflows --db ./guflow.db
  guflow replay --workflows ./workflows --redis localhost:6379
  guflow replay --workflows ./workflows --db ./guflow.db --workflow-id order-42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Workflows, "workflows", nil, "CUE workflow files or directories (required)")
	_ = cmd.MarkFlagRequired("workflows")
	cmd.Flags().StringVar(&opts.WorkflowID, "workflow-id", "", "replay one workflow only")
	opts.StoreOptions.addFlags(cmd)

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !opts.configured() {
		return NewExitError(ExitCommandError, "no task store: set --db or --redis")
	}

	eng, _, err := loadRegistered(opts.Workflows, engine.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())))
	if err != nil {
		return err
	}

	st, err := opts.open(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open task store", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	result := ReplayResult{Runs: []ReplayRunResult{}, AllDeterministic: true}
	for _, run := range runs {
		if opts.WorkflowID != "" && run.WorkflowID != opts.WorkflowID {
			continue
		}
		records, err := st.ReadTasks(ctx, run.WorkflowID, run.RunID)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read run %s/%s", run.WorkflowID, run.RunID), err)
		}
		ms, err := store.VerifyTasks(records, eng)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to replay", err)
		}
		r := ReplayRunResult{
			WorkflowID:    run.WorkflowID,
			RunID:         run.RunID,
			Workflow:      fmt.Sprintf("%s(%s)", run.WorkflowName, run.WorkflowVersion),
			Tasks:         len(records),
			Deterministic: len(ms) == 0,
			Mismatches:    ms,
		}
		result.Runs = append(result.Runs, r)
		result.TotalRuns++
		result.TotalTasks += len(records)
		if !r.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
	if result.AllDeterministic {
		return formatter.Success(result)
	}
	if err := formatter.Failure("E_DETERMINISM", "determinism verification failed", result); err != nil {
		return err
	}
	return NewExitError(ExitFailure, "determinism verification failed")
}

func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	fmt.Fprintf(w, "Replay Summary: %d run(s), %d task(s)\n\n", result.TotalRuns, result.TotalTasks)

	for _, run := range result.Runs {
		status := "✓"
		if !run.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s/%s %s: %d task(s)\n", status, run.WorkflowID, run.RunID, run.Workflow, run.Tasks)
		for _, m := range run.Mismatches {
			fmt.Fprintf(w, "  task %d differs\n", m.StartedEventID)
			if verbose {
				fmt.Fprintf(w, "    recorded: %v %s\n", m.Want, m.WantErr)
				fmt.Fprintf(w, "    replayed: %v %s\n", m.Got, m.GotErr)
			}
		}
	}
	fmt.Fprintln(w)

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All runs verified deterministic")
		return nil
	}
	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
