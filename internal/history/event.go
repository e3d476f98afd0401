package history

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Event is one raw history record as delivered by the backend.
//
// Only the attributes relevant to its Type are populated. Events are
// immutable facts: once appended to a run's history they never change and
// their ID never moves.
type Event struct {
	ID        int64     `json:"id" yaml:"id"`
	Type      EventType `json:"type" yaml:"type"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	Attributes `yaml:",inline"`
}

// Attributes is the union of the type-specific attributes used by the
// interpreter. Zero values mean "absent".
type Attributes struct {
	// Activities
	ActivityID      string `json:"activity_id,omitempty" yaml:"activity_id,omitempty"`
	ActivityName    string `json:"activity_name,omitempty" yaml:"activity_name,omitempty"`
	ActivityVersion string `json:"activity_version,omitempty" yaml:"activity_version,omitempty"`

	// Lambdas
	LambdaID   string `json:"lambda_id,omitempty" yaml:"lambda_id,omitempty"`
	LambdaName string `json:"lambda_name,omitempty" yaml:"lambda_name,omitempty"`

	// Timers
	TimerID            string `json:"timer_id,omitempty" yaml:"timer_id,omitempty"`
	StartToFireSeconds int64  `json:"start_to_fire_seconds,omitempty" yaml:"start_to_fire_seconds,omitempty"`

	// Workflows (own type on WorkflowExecutionStarted, child or external target otherwise)
	WorkflowID      string `json:"workflow_id,omitempty" yaml:"workflow_id,omitempty"`
	RunID           string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	WorkflowName    string `json:"workflow_name,omitempty" yaml:"workflow_name,omitempty"`
	WorkflowVersion string `json:"workflow_version,omitempty" yaml:"workflow_version,omitempty"`

	// Signals
	SignalName         string `json:"signal_name,omitempty" yaml:"signal_name,omitempty"`
	ExternalWorkflowID string `json:"external_workflow_id,omitempty" yaml:"external_workflow_id,omitempty"`
	ExternalRunID      string `json:"external_run_id,omitempty" yaml:"external_run_id,omitempty"`

	// Markers
	MarkerName string `json:"marker_name,omitempty" yaml:"marker_name,omitempty"`

	// Payloads shared across types
	TaskList    string `json:"task_list,omitempty" yaml:"task_list,omitempty"`
	Input       string `json:"input,omitempty" yaml:"input,omitempty"`
	Control     string `json:"control,omitempty" yaml:"control,omitempty"`
	Result      string `json:"result,omitempty" yaml:"result,omitempty"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Details     string `json:"details,omitempty" yaml:"details,omitempty"`
	Cause       string `json:"cause,omitempty" yaml:"cause,omitempty"`
	TimeoutType string `json:"timeout_type,omitempty" yaml:"timeout_type,omitempty"`

	// References to earlier events
	ScheduledEventID int64 `json:"scheduled_event_id,omitempty" yaml:"scheduled_event_id,omitempty"`
	StartedEventID   int64 `json:"started_event_id,omitempty" yaml:"started_event_id,omitempty"`
	InitiatedEventID int64 `json:"initiated_event_id,omitempty" yaml:"initiated_event_id,omitempty"`
}

// String returns a compact description for logs and errors.
func (e Event) String() string {
	return fmt.Sprintf("%s#%d", e.Type, e.ID)
}

// NewestFirst returns a copy of events ordered by descending ID.
func NewestFirst(events []Event) []Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b Event) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// OldestFirst returns a copy of events ordered by ascending ID.
func OldestFirst(events []Event) []Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b Event) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Validate checks the structural integrity of a history: positive, unique
// event ids and a known event type on every record.
func Validate(events []Event) error {
	seen := make(map[int64]struct{}, len(events))
	for _, e := range events {
		if e.ID <= 0 {
			return fmt.Errorf("event %s: id must be positive", e)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("event %s: duplicate event id", e)
		}
		seen[e.ID] = struct{}{}
		if !e.Type.Known() {
			return fmt.Errorf("event %s: unknown event type %q", e, e.Type)
		}
	}
	return nil
}
