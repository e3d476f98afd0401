package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/engine"
	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/ir"
)

// HistoryFile is a decision task written by hand or exported from a
// workflow service, in YAML or JSON. Events may be in any order.
type HistoryFile struct {
	WorkflowID      string `yaml:"workflow_id"`
	RunID           string `yaml:"run_id"`
	WorkflowName    string `yaml:"workflow"`
	WorkflowVersion string `yaml:"version"`

	// PreviousStartedEventID defaults to the started event of the last
	// DecisionTaskCompleted event.
	PreviousStartedEventID int64 `yaml:"previous_started_event_id"`

	Events []history.Event `yaml:"events"`
}

// DecideResult is the output of the decide command.
type DecideResult struct {
	WorkflowID     string           `json:"workflow_id"`
	RunID          string           `json:"run_id"`
	StartedEventID int64            `json:"started_event_id"`
	Decisions      []map[string]any `json:"decisions"`
	DecisionsHash  string           `json:"decisions_hash"`
}

// DecideOptions holds flags for the decide command.
type DecideOptions struct {
	*RootOptions
	Workflows []string
}

// NewDecideCommand creates the decide command.
func NewDecideCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecideOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decide <history-file>",
		Short: "Decide one task from a history file",
		Long: `Replay a run's history against its workflow declaration and print the
decisions the next decision task would answer with.

The history file names the run and lists its events up to and including
the DecisionTaskStarted event of the task to decide.

Exit codes:
  0 - Decisions computed
  1 - The engine aborted the task (incompatible history, bad signal resume, ...)
  2 - Command error (unreadable file, unknown workflow, ...)

Examples:
  guflow decide --workflows ./workflows task.yaml
  guflow decide --workflows shipping.cue task.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecide(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Workflows, "workflows", nil, "CUE workflow files or directories (required)")
	_ = cmd.MarkFlagRequired("workflows")

	return cmd
}

func runDecide(opts *DecideOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	task, err := ReadHistoryFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	eng, _, err := loadRegistered(opts.Workflows, engine.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())))
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return err
	}
	if _, ok := eng.Lookup(task.WorkflowName, task.WorkflowVersion); !ok {
		msg := fmt.Sprintf("workflow %s(%s) is not declared", task.WorkflowName, task.WorkflowVersion)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	batch, err := eng.Decide(task)
	if err != nil {
		code := ErrCodeGeneric
		var rerr *engine.ReplayError
		if errors.As(err, &rerr) {
			code = string(rerr.Code)
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitFailure, "task aborted", err)
	}

	result := DecideResult{
		WorkflowID:     task.WorkflowID,
		RunID:          task.RunID,
		StartedEventID: task.StartedEventID,
		Decisions:      []map[string]any{},
	}
	canon := decision.Canonicals(batch)
	for _, c := range canon {
		result.Decisions = append(result.Decisions, c.(map[string]any))
	}
	if result.DecisionsHash, err = ir.DecisionsHash(canon); err != nil {
		return WrapExitError(ExitCommandError, "hash decisions", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "%s/%s task %d: %d decision(s)\n", result.WorkflowID, result.RunID, result.StartedEventID, len(batch))
	for _, d := range result.Decisions {
		b, err := ir.MarshalCanonical(d)
		if err != nil {
			return WrapExitError(ExitCommandError, "marshal decision", err)
		}
		fmt.Fprintf(w, "  %s\n", b)
	}
	formatter.VerboseLog("decisions hash %s", result.DecisionsHash)
	return nil
}

// ReadHistoryFile reads a history file into a decision task. Missing run
// metadata is taken from the WorkflowExecutionStarted event.
func ReadHistoryFile(path string) (history.DecisionTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return history.DecisionTask{}, err
	}
	var f HistoryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return history.DecisionTask{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f.Task()
}

// Task converts the file into a decision task.
func (f HistoryFile) Task() (history.DecisionTask, error) {
	if len(f.Events) == 0 {
		return history.DecisionTask{}, fmt.Errorf("history has no events")
	}
	events := history.OldestFirst(f.Events)
	task := history.DecisionTask{
		WorkflowID:             f.WorkflowID,
		RunID:                  f.RunID,
		WorkflowName:           f.WorkflowName,
		WorkflowVersion:        f.WorkflowVersion,
		PreviousStartedEventID: f.PreviousStartedEventID,
	}
	var lastCompletedStart int64
	for _, e := range events {
		switch e.Type {
		case history.WorkflowExecutionStarted:
			if task.WorkflowName == "" {
				task.WorkflowName = e.WorkflowName
			}
			if task.WorkflowVersion == "" {
				task.WorkflowVersion = e.WorkflowVersion
			}
		case history.DecisionTaskCompleted:
			lastCompletedStart = e.StartedEventID
		case history.DecisionTaskStarted:
			task.StartedEventID = e.ID
		}
	}
	if task.StartedEventID == 0 {
		return history.DecisionTask{}, fmt.Errorf("history has no DecisionTaskStarted event")
	}
	if task.WorkflowName == "" {
		return history.DecisionTask{}, fmt.Errorf("workflow type is unknown: set workflow or add a WorkflowExecutionStarted event")
	}
	if task.PreviousStartedEventID == 0 {
		task.PreviousStartedEventID = lastCompletedStart
	}
	if task.WorkflowID == "" {
		task.WorkflowID = "wf-1"
	}
	if task.RunID == "" {
		task.RunID = "run-1"
	}
	task.Events = history.NewestFirst(events)
	return task, nil
}
