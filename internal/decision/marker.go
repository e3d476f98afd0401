package decision

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/guflow/internal/ir"
)

// Marker names of the bookkeeping decisions. These names and their payload
// fields are read back from histories written by earlier engine versions
// and must never change.
const (
	WaitForSignalsMarkerName  = "WorkflowItemWaitForSignals_Guflow_Internal_Marker"
	SignalledMarkerName       = "WorkflowItemSignalled_Guflow_Internal_Marker"
	SignalsTimedoutMarkerName = "WorkflowItemSignalsTimedout_Guflow_Internal_Marker"
)

// WaitType selects how many of the awaited signals resolve a wait.
type WaitType string

const (
	WaitAny WaitType = "Any"
	WaitAll WaitType = "All"
)

// Valid reports whether w is a known wait type.
func (w WaitType) Valid() bool { return w == WaitAny || w == WaitAll }

// NextAction is what happens to an item once its signal wait resolves.
type NextAction string

const (
	// NextContinue continues the workflow from the item (join its children).
	NextContinue NextAction = "Continue"
	// NextReschedule schedules the item again.
	NextReschedule NextAction = "Reschedule"
)

// Valid reports whether n is a known next action.
func (n NextAction) Valid() bool { return n == NextContinue || n == NextReschedule }

// Bookkeeping is a decision that persists engine state into history. On the
// wire it is a RecordMarker carrying a canonical JSON payload.
type Bookkeeping interface {
	Decision
	Marker() (RecordMarker, error)
}

// WaitForSignals records that an item started waiting for signals after
// the event TriggerEventID.
type WaitForSignals struct {
	ScheduleID     string     `json:"scheduleId"`
	TriggerEventID int64      `json:"triggerEventId"`
	SignalNames    []string   `json:"signalNames"`
	WaitType       WaitType   `json:"waitType"`
	NextAction     NextAction `json:"nextAction"`
}

func (WaitForSignals) Type() Type { return TypeWaitForSignals }

func (d WaitForSignals) payload() map[string]any {
	names := d.SignalNames
	if names == nil {
		names = []string{}
	}
	return map[string]any{
		"scheduleId":     d.ScheduleID,
		"triggerEventId": d.TriggerEventID,
		"signalNames":    names,
		"waitType":       string(d.WaitType),
		"nextAction":     string(d.NextAction),
	}
}

func (d WaitForSignals) Canonical() map[string]any {
	return map[string]any{"type": string(d.Type()), "marker": d.payload()}
}

func (d WaitForSignals) Marker() (RecordMarker, error) {
	return marker(WaitForSignalsMarkerName, d.payload())
}

// WorkflowItemSignalled records that one awaited signal was received by the
// wait occurrence (ScheduleID, TriggerEventID).
type WorkflowItemSignalled struct {
	ScheduleID     string `json:"scheduleId"`
	TriggerEventID int64  `json:"triggerEventId"`
	SignalName     string `json:"signalName"`
	SignalEventID  int64  `json:"signalEventId"`
}

func (WorkflowItemSignalled) Type() Type { return TypeWorkflowItemSignalled }

func (d WorkflowItemSignalled) payload() map[string]any {
	return map[string]any{
		"scheduleId":     d.ScheduleID,
		"triggerEventId": d.TriggerEventID,
		"signalName":     d.SignalName,
		"signalEventId":  d.SignalEventID,
	}
}

func (d WorkflowItemSignalled) Canonical() map[string]any {
	return map[string]any{"type": string(d.Type()), "marker": d.payload()}
}

func (d WorkflowItemSignalled) Marker() (RecordMarker, error) {
	return marker(SignalledMarkerName, d.payload())
}

// WorkflowItemSignalsTimedout records that the signal timer of a wait
// occurrence fired before every awaited signal arrived.
type WorkflowItemSignalsTimedout struct {
	ScheduleID            string   `json:"scheduleId"`
	TriggerEventID        int64    `json:"triggerEventId"`
	TimedoutSignalNames   []string `json:"timedoutSignalNames"`
	TimeoutTriggerEventID int64    `json:"timeoutTriggerEventId"`
}

func (WorkflowItemSignalsTimedout) Type() Type { return TypeWorkflowItemSignalsTimedout }

func (d WorkflowItemSignalsTimedout) payload() map[string]any {
	names := d.TimedoutSignalNames
	if names == nil {
		names = []string{}
	}
	return map[string]any{
		"scheduleId":            d.ScheduleID,
		"triggerEventId":        d.TriggerEventID,
		"timedoutSignalNames":   names,
		"timeoutTriggerEventId": d.TimeoutTriggerEventID,
	}
}

func (d WorkflowItemSignalsTimedout) Canonical() map[string]any {
	return map[string]any{"type": string(d.Type()), "marker": d.payload()}
}

func (d WorkflowItemSignalsTimedout) Marker() (RecordMarker, error) {
	return marker(SignalsTimedoutMarkerName, d.payload())
}

func marker(name string, payload map[string]any) (RecordMarker, error) {
	details, err := ir.MarshalCanonical(payload)
	if err != nil {
		return RecordMarker{}, fmt.Errorf("marshal %s: %w", name, err)
	}
	return RecordMarker{Name: name, Details: string(details)}, nil
}

// IsBookkeepingMarker reports whether name is one of the engine's markers.
func IsBookkeepingMarker(name string) bool {
	switch name {
	case WaitForSignalsMarkerName, SignalledMarkerName, SignalsTimedoutMarkerName:
		return true
	}
	return false
}

// MarkerError reports a bookkeeping marker whose payload cannot be read.
type MarkerError struct {
	Name    string
	Message string
	Err     error
}

func (e *MarkerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed marker %s: %s: %v", e.Name, e.Message, e.Err)
	}
	return fmt.Sprintf("malformed marker %s: %s", e.Name, e.Message)
}

func (e *MarkerError) Unwrap() error { return e.Err }

// ParseMarker reads a recorded marker back into its bookkeeping decision.
//
// Returns (nil, false, nil) for markers that are not engine bookkeeping.
// Unknown payload fields are tolerated; missing required fields are not.
// Signal names are normalized on the way in so that payloads written with
// any casing compare equal.
func ParseMarker(name, details string) (Bookkeeping, bool, error) {
	switch name {
	case WaitForSignalsMarkerName:
		var d WaitForSignals
		if err := json.Unmarshal([]byte(details), &d); err != nil {
			return nil, true, &MarkerError{Name: name, Message: "invalid JSON", Err: err}
		}
		if d.NextAction == "" {
			d.NextAction = NextContinue
		}
		if err := checkOccurrence(name, d.ScheduleID, d.TriggerEventID); err != nil {
			return nil, true, err
		}
		if len(d.SignalNames) == 0 {
			return nil, true, &MarkerError{Name: name, Message: "signalNames is empty"}
		}
		if !d.WaitType.Valid() {
			return nil, true, &MarkerError{Name: name, Message: fmt.Sprintf("unknown waitType %q", d.WaitType)}
		}
		if !d.NextAction.Valid() {
			return nil, true, &MarkerError{Name: name, Message: fmt.Sprintf("unknown nextAction %q", d.NextAction)}
		}
		d.SignalNames = NormalizeSignalNames(d.SignalNames)
		return d, true, nil

	case SignalledMarkerName:
		var d WorkflowItemSignalled
		if err := json.Unmarshal([]byte(details), &d); err != nil {
			return nil, true, &MarkerError{Name: name, Message: "invalid JSON", Err: err}
		}
		if err := checkOccurrence(name, d.ScheduleID, d.TriggerEventID); err != nil {
			return nil, true, err
		}
		if d.SignalName == "" {
			return nil, true, &MarkerError{Name: name, Message: "signalName is empty"}
		}
		d.SignalName = ir.NormalizeName(d.SignalName)
		return d, true, nil

	case SignalsTimedoutMarkerName:
		var d WorkflowItemSignalsTimedout
		if err := json.Unmarshal([]byte(details), &d); err != nil {
			return nil, true, &MarkerError{Name: name, Message: "invalid JSON", Err: err}
		}
		if err := checkOccurrence(name, d.ScheduleID, d.TriggerEventID); err != nil {
			return nil, true, err
		}
		d.TimedoutSignalNames = NormalizeSignalNames(d.TimedoutSignalNames)
		return d, true, nil
	}
	return nil, false, nil
}

func checkOccurrence(name, scheduleID string, triggerEventID int64) error {
	if scheduleID == "" {
		return &MarkerError{Name: name, Message: "scheduleId is empty"}
	}
	if triggerEventID <= 0 {
		return &MarkerError{Name: name, Message: "triggerEventId must be positive"}
	}
	return nil
}

// NormalizeSignalNames case-folds names and drops duplicates, keeping the
// first occurrence's position.
func NormalizeSignalNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = ir.NormalizeName(n)
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Wire lowers bookkeeping decisions to RecordMarker and returns every other
// decision unchanged. Transports call this before submitting a batch.
func Wire(batch []Decision) ([]Decision, error) {
	out := make([]Decision, len(batch))
	for i, d := range batch {
		if b, ok := d.(Bookkeeping); ok {
			m, err := b.Marker()
			if err != nil {
				return nil, err
			}
			out[i] = m
			continue
		}
		out[i] = d
	}
	return out, nil
}
