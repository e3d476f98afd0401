package harness

// TraceEntry is one decided task of a scenario run.
type TraceEntry struct {
	// Step is the index of the scenario step that caused the task, or -1
	// for the task that follows the run's start.
	Step int `json:"step"`

	// Action is the step's action, "start" for the first task.
	Action string `json:"action"`

	StartedEventID int64 `json:"started_event_id"`

	// Decisions holds the canonical form of each decision, in batch order.
	Decisions []map[string]any `json:"decisions"`

	// Error is set when the engine aborted the task.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEntry `json:"trace"`

	// Errors lists the failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Status is the run's closing event type, empty while the run is open.
	Status string `json:"status,omitempty"`

	// Outstanding lists unfinished work, e.g. "activity:ship.1".
	Outstanding []string `json:"outstanding,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Decisions returns every traced decision in order.
func (r *Result) Decisions() []map[string]any {
	var out []map[string]any
	for _, e := range r.Trace {
		out = append(out, e.Decisions...)
	}
	return out
}
