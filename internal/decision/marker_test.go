package decision

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForSignalsMarkerRoundTrip(t *testing.T) {
	d := WaitForSignals{
		ScheduleID:     "approve.1.0",
		TriggerEventID: 7,
		SignalNames:    []string{"x", "y"},
		WaitType:       WaitAll,
		NextAction:     NextContinue,
	}

	m, err := d.Marker()
	require.NoError(t, err)
	assert.Equal(t, WaitForSignalsMarkerName, m.Name)
	assert.Equal(t,
		`{"nextAction":"Continue","scheduleId":"approve.1.0","signalNames":["x","y"],"triggerEventId":7,"waitType":"All"}`,
		m.Details)

	parsed, ok, err := ParseMarker(m.Name, m.Details)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d, parsed)
}

func TestSignalledMarkerRoundTrip(t *testing.T) {
	d := WorkflowItemSignalled{ScheduleID: "a", TriggerEventID: 3, SignalName: "go", SignalEventID: 9}

	m, err := d.Marker()
	require.NoError(t, err)
	assert.Equal(t, SignalledMarkerName, m.Name)

	parsed, ok, err := ParseMarker(m.Name, m.Details)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d, parsed)
}

func TestTimedoutMarkerRoundTrip(t *testing.T) {
	d := WorkflowItemSignalsTimedout{
		ScheduleID:            "a",
		TriggerEventID:        3,
		TimedoutSignalNames:   []string{"y"},
		TimeoutTriggerEventID: 12,
	}

	m, err := d.Marker()
	require.NoError(t, err)

	parsed, ok, err := ParseMarker(m.Name, m.Details)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d, parsed)
}

func TestParseMarker(t *testing.T) {
	t.Run("foreign marker", func(t *testing.T) {
		d, ok, err := ParseMarker("UserMarker", "{}")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, d)
	})

	t.Run("defaults next action", func(t *testing.T) {
		d, ok, err := ParseMarker(WaitForSignalsMarkerName,
			`{"scheduleId":"a","triggerEventId":2,"signalNames":["X"],"waitType":"Any"}`)
		require.NoError(t, err)
		require.True(t, ok)
		w := d.(WaitForSignals)
		assert.Equal(t, NextContinue, w.NextAction)
		assert.Equal(t, []string{"x"}, w.SignalNames)
	})

	t.Run("tolerates unknown fields", func(t *testing.T) {
		_, ok, err := ParseMarker(SignalledMarkerName,
			`{"scheduleId":"a","triggerEventId":2,"signalName":"X","signalEventId":4,"extra":true}`)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	errorCases := []struct {
		name    string
		marker  string
		details string
	}{
		{"invalid json", WaitForSignalsMarkerName, `{`},
		{"missing schedule id", SignalledMarkerName, `{"triggerEventId":2,"signalName":"x"}`},
		{"zero trigger", SignalsTimedoutMarkerName, `{"scheduleId":"a","triggerEventId":0}`},
		{"empty names", WaitForSignalsMarkerName, `{"scheduleId":"a","triggerEventId":2,"signalNames":[],"waitType":"All"}`},
		{"bad wait type", WaitForSignalsMarkerName, `{"scheduleId":"a","triggerEventId":2,"signalNames":["x"],"waitType":"Some"}`},
		{"bad next action", WaitForSignalsMarkerName, `{"scheduleId":"a","triggerEventId":2,"signalNames":["x"],"waitType":"All","nextAction":"Skip"}`},
		{"empty signal name", SignalledMarkerName, `{"scheduleId":"a","triggerEventId":2,"signalName":""}`},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, err := ParseMarker(tc.marker, tc.details)
			require.Error(t, err)
			assert.True(t, ok)
			var me *MarkerError
			assert.True(t, errors.As(err, &me))
			assert.Equal(t, tc.marker, me.Name)
		})
	}
}

func TestNormalizeSignalNames(t *testing.T) {
	assert.Equal(t, []string{"approved", "rejected"},
		NormalizeSignalNames([]string{"Approved", "REJECTED", "approved", ""}))
	assert.Empty(t, NormalizeSignalNames(nil))
}

func TestWire(t *testing.T) {
	batch := []Decision{
		ScheduleActivity{ActivityID: "a", Name: "A", Version: "1"},
		WorkflowItemSignalled{ScheduleID: "a", TriggerEventID: 3, SignalName: "x", SignalEventID: 5},
		CompleteWorkflow{Result: "ok"},
	}

	wire, err := Wire(batch)
	require.NoError(t, err)
	require.Len(t, wire, 3)
	assert.Equal(t, batch[0], wire[0])
	m, ok := wire[1].(RecordMarker)
	require.True(t, ok)
	assert.Equal(t, SignalledMarkerName, m.Name)
	assert.Equal(t, batch[2], wire[2])
}

func TestTimerControl(t *testing.T) {
	c := TimerControl{TimerName: "approve", TimerType: TimerSignal, TriggerEventID: 4}
	s, err := c.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"timerName":"approve","timerType":"SignalTimer","triggerEventId":4}`, s)

	parsed, err := ParseTimerControl("approve", s)
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	t.Run("empty control is an item timer", func(t *testing.T) {
		parsed, err := ParseTimerControl("wait", "")
		require.NoError(t, err)
		assert.Equal(t, TimerControl{TimerName: "wait", TimerType: TimerItem}, parsed)
	})

	t.Run("signal timer needs trigger", func(t *testing.T) {
		_, err := ParseTimerControl("x", `{"timerName":"x","timerType":"SignalTimer"}`)
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseTimerControl("x", `{"timerType":"Alarm"}`)
		assert.Error(t, err)
	})
}

func TestDurationSeconds(t *testing.T) {
	assert.Equal(t, int64(0), Seconds(-time.Second))
	assert.Equal(t, int64(0), Seconds(0))
	assert.Equal(t, int64(1), Seconds(time.Millisecond))
	assert.Equal(t, int64(3600), Seconds(time.Hour))
}
