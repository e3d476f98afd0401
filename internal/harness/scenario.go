package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario drives one workflow run through a sequence of backend events
// and checks the decisions the engine makes along the way.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Workflows lists CUE declaration files, relative to the scenario file.
	Workflows []string `yaml:"workflows"`

	// Workflow and Version select the workflow type to start.
	Workflow string `yaml:"workflow"`
	Version  string `yaml:"version"`

	// WorkflowID defaults to "wf-1".
	WorkflowID string `yaml:"workflow_id,omitempty"`

	// Start holds the run input and the decisions expected for the first task.
	Start StartStep `yaml:"start,omitempty"`

	// Steps are applied in order. After each step the pending decision
	// task is decided, unless the step holds.
	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// StartStep configures the start of the run.
type StartStep struct {
	Input  string           `yaml:"input,omitempty"`
	Expect []map[string]any `yaml:"expect,omitempty"`
}

// Step is one backend event.
type Step struct {
	// Action names the event; see the Step* constants.
	Action string `yaml:"action"`

	// ID is the activity, lambda, child workflow or timer id the action targets.
	ID string `yaml:"id,omitempty"`

	// Name is the signal name.
	Name string `yaml:"name,omitempty"`

	Result      string `yaml:"result,omitempty"`
	Reason      string `yaml:"reason,omitempty"`
	Details     string `yaml:"details,omitempty"`
	Input       string `yaml:"input,omitempty"`
	TimeoutType string `yaml:"timeout_type,omitempty"`

	// Advance moves the clock forward before the event, e.g. "1h".
	Advance string `yaml:"advance,omitempty"`

	// Hold delivers the event without deciding, so that it lands in the
	// same task as the next step's event.
	Hold bool `yaml:"hold,omitempty"`

	// Expect lists the decisions the step's task must produce, matched by
	// position. Only the given fields are compared.
	Expect []map[string]any `yaml:"expect,omitempty"`

	// ExpectError is a substring of the abort error the task must produce.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step actions.
const (
	StepCompleteActivity = "complete_activity"
	StepFailActivity     = "fail_activity"
	StepTimeoutActivity  = "timeout_activity"
	StepCompleteLambda   = "complete_lambda"
	StepFailLambda       = "fail_lambda"
	StepCompleteChild    = "complete_child"
	StepFailChild        = "fail_child"
	StepFireTimer        = "fire_timer"
	StepSignal           = "signal"
	StepCancel           = "cancel"
)

var stepActions = map[string]bool{
	StepCompleteActivity: true,
	StepFailActivity:     true,
	StepTimeoutActivity:  true,
	StepCompleteLambda:   true,
	StepFailLambda:       true,
	StepCompleteChild:    true,
	StepFailChild:        true,
	StepFireTimer:        true,
	StepSignal:           true,
	StepCancel:           true,
}

// Assertion validates the whole trace or the final run state.
type Assertion struct {
	// Type is one of decision_contains, decision_order, decision_count or
	// final_state.
	Type string `yaml:"type"`

	// Decision is a partial decision (decision_contains, decision_count).
	Decision map[string]any `yaml:"decision,omitempty"`

	// Count is the exact number of matches (decision_count).
	Count int `yaml:"count,omitempty"`

	// Decisions are partial decisions that must appear in this order
	// (decision_order). Other decisions may appear between them.
	Decisions []map[string]any `yaml:"decisions,omitempty"`

	// Status is the expected closing event type, or "open" (final_state).
	Status string `yaml:"status,omitempty"`

	// Outstanding is the expected unfinished work (final_state).
	Outstanding []string `yaml:"outstanding,omitempty"`
}

// Assertion types.
const (
	AssertDecisionContains = "decision_contains"
	AssertDecisionOrder    = "decision_order"
	AssertDecisionCount    = "decision_count"
	AssertFinalState       = "final_state"
)

// LoadScenario reads a scenario file. Workflow paths are resolved relative
// to the file's directory. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads a scenario file, resolving workflow paths
// relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, p := range scenario.Workflows {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Workflows[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Workflows) == 0 {
		return fmt.Errorf("workflows list is required and must be non-empty")
	}
	if s.Workflow == "" || s.Version == "" {
		return fmt.Errorf("workflow and version are required")
	}
	for _, p := range s.Workflows {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("workflow file not found: %s", p)
		}
	}

	for i, step := range s.Steps {
		if !stepActions[step.Action] {
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
		switch step.Action {
		case StepSignal:
			if step.Name == "" {
				return fmt.Errorf("steps[%d]: name is required for signal", i)
			}
		case StepCancel:
		default:
			if step.ID == "" {
				return fmt.Errorf("steps[%d]: id is required for %s", i, step.Action)
			}
		}
		if step.Advance != "" {
			if d, err := time.ParseDuration(step.Advance); err != nil || d < 0 {
				return fmt.Errorf("steps[%d]: advance %q is not a non-negative duration", i, step.Advance)
			}
		}
		if step.Hold && (len(step.Expect) > 0 || step.ExpectError != "") {
			return fmt.Errorf("steps[%d]: a held step has no task to expect", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertDecisionContains:
		if len(a.Decision) == 0 {
			return fmt.Errorf("assertions[%d]: decision is required for decision_contains", index)
		}
	case AssertDecisionOrder:
		if len(a.Decisions) < 2 {
			return fmt.Errorf("assertions[%d]: at least two decisions are required for decision_order", index)
		}
	case AssertDecisionCount:
		if len(a.Decision) == 0 {
			return fmt.Errorf("assertions[%d]: decision is required for decision_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for decision_count", index)
		}
	case AssertFinalState:
		if a.Status == "" && a.Outstanding == nil {
			return fmt.Errorf("assertions[%d]: status or outstanding is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
