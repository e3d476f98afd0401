package decision

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/guflow/internal/ir"
)

// TimerType tells the interpreter what a timer was started for.
type TimerType string

const (
	// TimerItem is a timer declared as a workflow item.
	TimerItem TimerType = "Timer"
	// TimerReschedule delays the rescheduling of an item.
	TimerReschedule TimerType = "Reschedule"
	// TimerSignal bounds a signal wait occurrence.
	TimerSignal TimerType = "SignalTimer"
)

// TimerControl is the payload carried in a timer's control field.
type TimerControl struct {
	TimerName      string    `json:"timerName"`
	TimerType      TimerType `json:"timerType"`
	TriggerEventID int64     `json:"triggerEventId,omitempty"`
}

func (c TimerControl) canonical() map[string]any {
	m := map[string]any{
		"timerName": c.TimerName,
		"timerType": string(c.TimerType),
	}
	if c.TriggerEventID > 0 {
		m["triggerEventId"] = c.TriggerEventID
	}
	return m
}

// Encode returns the canonical JSON control string.
func (c TimerControl) Encode() (string, error) {
	b, err := ir.MarshalCanonical(c.canonical())
	if err != nil {
		return "", fmt.Errorf("encode timer control: %w", err)
	}
	return string(b), nil
}

// ParseTimerControl decodes a timer control string. Timers without a
// control payload are treated as item timers named by their timer id.
func ParseTimerControl(timerID, control string) (TimerControl, error) {
	if control == "" {
		return TimerControl{TimerName: timerID, TimerType: TimerItem}, nil
	}
	var c TimerControl
	if err := json.Unmarshal([]byte(control), &c); err != nil {
		return TimerControl{}, fmt.Errorf("decode timer control for %q: %w", timerID, err)
	}
	if c.TimerName == "" {
		c.TimerName = timerID
	}
	switch c.TimerType {
	case TimerItem, TimerReschedule:
	case TimerSignal:
		if c.TriggerEventID <= 0 {
			return TimerControl{}, fmt.Errorf("decode timer control for %q: signal timer without triggerEventId", timerID)
		}
	case "":
		c.TimerType = TimerItem
	default:
		return TimerControl{}, fmt.Errorf("decode timer control for %q: unknown timerType %q", timerID, c.TimerType)
	}
	return c, nil
}
