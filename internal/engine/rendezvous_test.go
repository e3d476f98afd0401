package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/ir"
	"github.com/roach88/guflow/internal/testutil"
)

var (
	approveID = ir.NewIdentity("Approve", "1", "0")
	shipID    = ir.NewIdentity("Ship", "1", "")
)

// approval declares Approve -> Ship where Approve's completion handler
// decides how to wait.
func approval(wait ItemHandler) *Builder {
	b := NewBuilder("Approval", "1")
	b.Activity("Approve", "1", "0").OnCompletion(wait)
	b.Activity("Ship", "1", "").DependsOn(approveID)
	return b
}

func waitAll(timeout time.Duration, names ...string) ItemHandler {
	return func(ev *ItemEvent) Action {
		return ev.WaitForAllSignals(names...).For(timeout)
	}
}

func waitFor(trigger int64, wt decision.WaitType, names ...string) decision.WaitForSignals {
	return decision.WaitForSignals{
		ScheduleID:     "approve.1.0",
		TriggerEventID: trigger,
		SignalNames:    names,
		WaitType:       wt,
		NextAction:     decision.NextContinue,
	}
}

func signalTimer(trigger int64, delay time.Duration) decision.ScheduleTimer {
	return decision.ScheduleTimer{
		TimerID: "approve.1.0",
		Delay:   delay,
		Control: decision.TimerControl{TimerName: "Approve", TimerType: decision.TimerSignal, TriggerEventID: trigger},
	}
}

func signalled(trigger int64, name string, signal int64) decision.WorkflowItemSignalled {
	return decision.WorkflowItemSignalled{
		ScheduleID:     "approve.1.0",
		TriggerEventID: trigger,
		SignalName:     name,
		SignalEventID:  signal,
	}
}

// approvedHistory writes a run whose Approve activity completed in the
// second decision task and returns the ids of the completion and of the
// first task's DecisionTaskStarted.
func approvedHistory() (h *testutil.History, completion, prev int64) {
	h = testutil.NewHistory()
	prev = started(h, "")
	h.DecisionCompleted(prev)
	completion = h.CompletedActivity("approve.1.0", "Approve", "1", "")
	return h, completion, prev
}

func TestSignals_AllResolvedWithinOneTask(t *testing.T) {
	w := mustBuild(t, approval(waitAll(time.Hour, "X", "y")))
	h, c, prev := approvedHistory()
	sx := h.Signal("X", "")
	sy := h.Signal("y", "")
	h.Advance(10 * time.Minute)
	h.DecisionStarted()

	got := decide(t, w, h, prev)
	assert.Equal(t, []decision.Decision{
		waitFor(c, decision.WaitAll, "x", "y"),
		signalTimer(c, 50*time.Minute),
		signalled(c, "x", sx),
		scheduleActivity(shipID),
		signalled(c, "y", sy),
	}, got)
}

func TestSignals_ReservedSignalCountsAsReceived(t *testing.T) {
	var sawY bool
	b := NewBuilder("Approval", "1")
	b.Activity("Approve", "1", "0").OnCompletion(waitAll(time.Hour, "x", "y"))
	b.Activity("Ship", "1", "").DependsOn(approveID).When(func(r *Replay) bool {
		sawY = r.SignalReceived(r.Item(approveID), "y")
		return true
	})
	w := mustBuild(t, b)
	h, c, prev := approvedHistory()
	sx := h.Signal("x", "")
	sy := h.Signal("y", "")
	h.DecisionStarted()

	got := decide(t, w, h, prev)
	assert.Equal(t, []decision.Decision{
		waitFor(c, decision.WaitAll, "x", "y"),
		signalTimer(c, time.Hour),
		signalled(c, "x", sx),
		scheduleActivity(shipID),
		signalled(c, "y", sy),
	}, got)
	assert.True(t, sawY, "y is reserved when x resolves the wait")
}

func TestSignals_TimerDelayAccountsForTaskLatency(t *testing.T) {
	tests := []struct {
		name    string
		latency time.Duration
		want    time.Duration
	}{
		{name: "no latency", latency: 0, want: time.Hour},
		{name: "partial", latency: 15 * time.Minute, want: 45 * time.Minute},
		{name: "deadline passed", latency: 2 * time.Hour, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := mustBuild(t, approval(waitAll(time.Hour, "x")))
			h, c, prev := approvedHistory()
			h.Advance(tt.latency)
			h.DecisionStarted()

			got := decide(t, w, h, prev)
			assert.Equal(t, []decision.Decision{
				waitFor(c, decision.WaitAll, "x"),
				signalTimer(c, tt.want),
			}, got)
		})
	}
}

func TestSignals_RemainingWithoutTimestamps(t *testing.T) {
	r := &Replay{}
	assert.Equal(t, time.Hour, r.remaining(time.Hour, testutil.Epoch))

	r.now = testutil.Epoch.Add(-time.Minute)
	assert.Equal(t, time.Hour, r.remaining(time.Hour, testutil.Epoch))
}

func TestSignals_AnyResolvesOnFirstSignal(t *testing.T) {
	w := mustBuild(t, approval(func(ev *ItemEvent) Action {
		return ev.WaitForAnySignal("x", "y")
	}))
	h, c, prev := approvedHistory()
	sy := h.Signal("y", "")
	h.Signal("x", "")
	h.DecisionStarted()

	got := decide(t, w, h, prev)
	assert.Equal(t, []decision.Decision{
		waitFor(c, decision.WaitAny, "x", "y"),
		signalled(c, "y", sy),
		scheduleActivity(shipID),
	}, got)
}

func TestSignals_WaitWithoutSignalKeepsChildrenBlocked(t *testing.T) {
	w := mustBuild(t, approval(func(ev *ItemEvent) Action {
		return ev.WaitForSignal("x")
	}))
	h, c, prev := approvedHistory()
	h.Signal("unrelated", "")
	h.DecisionStarted()

	got := decide(t, w, h, prev)
	assert.Equal(t, []decision.Decision{waitFor(c, decision.WaitAny, "x")}, got)
}

func TestSignals_ResolvedAcrossTasks(t *testing.T) {
	w := mustBuild(t, approval(waitAll(time.Hour, "x", "y")))
	h, c, _ := approvedHistory()
	s2 := h.DecisionStarted()

	// Task 3: the wait and its timer are recorded, x arrives.
	h.DecisionCompleted(s2)
	h.Marker(waitFor(c, decision.WaitAll, "x", "y"))
	ts := h.TimerStarted("approve.1.0", time.Hour, signalTimer(c, time.Hour).Control)
	sx := h.Signal("x", "")
	s3 := h.DecisionStarted()
	assert.Equal(t, []decision.Decision{signalled(c, "x", sx)}, decide(t, w, h, s2))

	// Task 4: y arrives and the wait resolves.
	h.DecisionCompleted(s3)
	h.Marker(signalled(c, "x", sx))
	sy := h.Signal("y", "")
	s4 := h.DecisionStarted()
	assert.Equal(t, []decision.Decision{
		signalled(c, "y", sy),
		scheduleActivity(shipID),
	}, decide(t, w, h, s3))

	// Task 5: the signal timer fires late and is ignored.
	h.DecisionCompleted(s4)
	h.Marker(signalled(c, "y", sy))
	h.ActivityScheduled("ship.1", "Ship", "1")
	h.TimerFired(ts, "approve.1.0")
	h.DecisionStarted()
	assert.Empty(t, decide(t, w, h, s4))
}

func TestSignals_SignalBeforeDecisionRecorded(t *testing.T) {
	w := mustBuild(t, approval(func(ev *ItemEvent) Action {
		return ev.WaitForSignal("x")
	}))
	h, c, _ := approvedHistory()
	s2 := h.DecisionStarted()

	// x lands while the previous decision task is still being processed.
	sx := h.Signal("x", "")
	h.DecisionCompleted(s2)
	h.Marker(waitFor(c, decision.WaitAny, "x"))
	h.DecisionStarted()

	assert.Equal(t, []decision.Decision{
		signalled(c, "x", sx),
		scheduleActivity(shipID),
	}, decide(t, w, h, s2))
}

func TestSignals_Timeout(t *testing.T) {
	h, c, _ := approvedHistory()
	s2 := h.DecisionStarted()
	h.DecisionCompleted(s2)
	h.Marker(waitFor(c, decision.WaitAll, "x", "y"))
	ts := h.TimerStarted("approve.1.0", time.Hour, signalTimer(c, time.Hour).Control)
	sx := h.Signal("x", "")
	s3 := h.DecisionStarted()
	h.DecisionCompleted(s3)
	h.Marker(signalled(c, "x", sx))
	h.Advance(time.Hour)
	fire := h.TimerFired(ts, "approve.1.0")
	h.Signal("y", "")
	h.DecisionStarted()

	timedout := decision.WorkflowItemSignalsTimedout{
		ScheduleID:            "approve.1.0",
		TriggerEventID:        c,
		TimedoutSignalNames:   []string{"y"},
		TimeoutTriggerEventID: fire,
	}

	t.Run("default continues", func(t *testing.T) {
		w := mustBuild(t, approval(waitAll(time.Hour, "x", "y")))
		assert.Equal(t, []decision.Decision{
			timedout,
			scheduleActivity(shipID),
		}, decide(t, w, h, s3))
	})

	t.Run("handler sees signal state", func(t *testing.T) {
		var received, timedOut bool
		b := NewBuilder("Approval", "1")
		b.Activity("Approve", "1", "0").
			OnCompletion(waitAll(time.Hour, "x", "y")).
			OnSignalsTimedout(func(ev *ItemEvent) Action {
				r := ev.Replay()
				received = r.SignalReceived(ev.Item(), "X")
				timedOut = r.SignalTimedOut(ev.Item(), "y")
				return FailWorkflow("APPROVAL_TIMEOUT", "")
			})
		b.Activity("Ship", "1", "").DependsOn(approveID)
		w := mustBuild(t, b)

		assert.Equal(t, []decision.Decision{
			timedout,
			decision.FailWorkflow{Reason: "APPROVAL_TIMEOUT"},
		}, decide(t, w, h, s3))
		assert.True(t, received)
		assert.True(t, timedOut)
	})
}

func TestSignals_TimerFireBlocksLookahead(t *testing.T) {
	w := mustBuild(t, approval(waitAll(time.Hour, "x", "y")))
	h, c, _ := approvedHistory()
	s2 := h.DecisionStarted()
	h.DecisionCompleted(s2)
	h.Marker(waitFor(c, decision.WaitAll, "x", "y"))
	ts := h.TimerStarted("approve.1.0", time.Hour, signalTimer(c, time.Hour).Control)
	sx := h.Signal("x", "")
	fire := h.TimerFired(ts, "approve.1.0")
	h.Signal("y", "")
	h.DecisionStarted()

	got := decide(t, w, h, s2)
	assert.Equal(t, []decision.Decision{
		signalled(c, "x", sx),
		decision.WorkflowItemSignalsTimedout{
			ScheduleID:            "approve.1.0",
			TriggerEventID:        c,
			TimedoutSignalNames:   []string{"y"},
			TimeoutTriggerEventID: fire,
		},
		scheduleActivity(shipID),
	}, got)
}

func TestSignals_ThenReschedule(t *testing.T) {
	w := mustBuild(t, approval(func(ev *ItemEvent) Action {
		return ev.WaitForSignal("again").ThenReschedule()
	}))
	h, c, prev := approvedHistory()
	sa := h.Signal("again", "")
	h.DecisionStarted()

	wait := waitFor(c, decision.WaitAny, "again")
	wait.NextAction = decision.NextReschedule
	assert.Equal(t, []decision.Decision{
		wait,
		signalled(c, "again", sa),
		scheduleActivity(approveID),
	}, decide(t, w, h, prev))
}

func TestSignals_WaitAgainReplacesOpenTimer(t *testing.T) {
	w := mustBuild(t, approval(func(ev *ItemEvent) Action {
		return ev.WaitForSignal("again").For(time.Hour).ThenReschedule()
	}))
	h, c1, _ := approvedHistory()
	s2 := h.DecisionStarted()
	h.DecisionCompleted(s2)
	first := waitFor(c1, decision.WaitAny, "again")
	first.NextAction = decision.NextReschedule
	h.Marker(first)
	ts := h.TimerStarted("approve.1.0", time.Hour, signalTimer(c1, time.Hour).Control)
	sa := h.Signal("again", "")
	s3 := h.DecisionStarted()
	h.DecisionCompleted(s3)
	h.Marker(signalled(c1, "again", sa))
	scheduled := h.ActivityScheduled("approve.1.0", "Approve", "1")
	h.ActivityStarted(scheduled)

	t.Run("open timer is cancelled first", func(t *testing.T) {
		h := h.Clone()
		c2 := h.ActivityCompleted(scheduled, "")
		h.DecisionStarted()

		second := waitFor(c2, decision.WaitAny, "again")
		second.NextAction = decision.NextReschedule
		assert.Equal(t, []decision.Decision{
			second,
			decision.CancelTimer{TimerID: "approve.1.0"},
			signalTimer(c2, time.Hour),
		}, decide(t, w, h, s3))
	})

	t.Run("fired timer is left alone", func(t *testing.T) {
		h := h.Clone()
		h.TimerFired(ts, "approve.1.0")
		c2 := h.ActivityCompleted(scheduled, "")
		h.DecisionStarted()

		second := waitFor(c2, decision.WaitAny, "again")
		second.NextAction = decision.NextReschedule
		assert.Equal(t, []decision.Decision{
			second,
			signalTimer(c2, time.Hour),
		}, decide(t, w, h, s3))
	})

	t.Run("each wait replaces the timer before it", func(t *testing.T) {
		h := h.Clone()
		c2 := h.ActivityCompleted(scheduled, "")
		s4 := h.DecisionStarted()
		h.DecisionCompleted(s4)
		second := waitFor(c2, decision.WaitAny, "again")
		second.NextAction = decision.NextReschedule
		h.Marker(second)
		h.TimerCanceled(ts, "approve.1.0")
		h.TimerStarted("approve.1.0", time.Hour, signalTimer(c2, time.Hour).Control)
		sb := h.Signal("again", "")
		s5 := h.DecisionStarted()
		h.DecisionCompleted(s5)
		h.Marker(signalled(c2, "again", sb))
		again := h.ActivityScheduled("approve.1.0", "Approve", "1")
		h.ActivityStarted(again)
		c3 := h.ActivityCompleted(again, "")
		h.DecisionStarted()

		third := waitFor(c3, decision.WaitAny, "again")
		third.NextAction = decision.NextReschedule
		assert.Equal(t, []decision.Decision{
			third,
			decision.CancelTimer{TimerID: "approve.1.0"},
			signalTimer(c3, time.Hour),
		}, decide(t, w, h, s5))
	})
}

func TestSignals_DuplicateWaitIsRecordedOnce(t *testing.T) {
	w := mustBuild(t, approval(func(ev *ItemEvent) Action {
		return Combine(ev.WaitForSignal("x"), ev.WaitForSignal("x"))
	}))
	h, c, prev := approvedHistory()
	h.DecisionStarted()

	assert.Equal(t, []decision.Decision{waitFor(c, decision.WaitAny, "x")}, decide(t, w, h, prev))
}

// twoApprovals declares Approve#1 -> Ship#1 and Approve#2 -> Ship#2.
func twoApprovals(wait ItemHandler) *Builder {
	b := NewBuilder("Approvals", "1")
	b.Activity("Approve", "1", "1").OnCompletion(wait)
	b.Activity("Approve", "1", "2").OnCompletion(wait)
	b.Activity("Ship", "1", "1").DependsOn(ir.NewIdentity("Approve", "1", "1"))
	b.Activity("Ship", "1", "2").DependsOn(ir.NewIdentity("Approve", "1", "2"))
	return b
}

func waitOf(sid string, trigger int64, wt decision.WaitType, names ...string) decision.WaitForSignals {
	d := waitFor(trigger, wt, names...)
	d.ScheduleID = sid
	return d
}

func signalledOf(sid string, trigger int64, name string, signal int64) decision.WorkflowItemSignalled {
	d := signalled(trigger, name, signal)
	d.ScheduleID = sid
	return d
}

func TestSignals_DeliveredToEarliestWaiter(t *testing.T) {
	w := mustBuild(t, twoApprovals(func(ev *ItemEvent) Action {
		return ev.WaitForSignal("go")
	}))
	h := testutil.NewHistory()
	s := started(h, "")
	h.DecisionCompleted(s)
	s1 := h.ActivityScheduled("approve.1.1", "Approve", "1")
	s2 := h.ActivityScheduled("approve.1.2", "Approve", "1")
	c2 := h.ActivityCompleted(s2, "")
	c1 := h.ActivityCompleted(s1, "")
	g1 := h.Signal("go", "")
	g2 := h.Signal("GO", "")
	h.DecisionStarted()

	got := decide(t, w, h, s)
	assert.Equal(t, []decision.Decision{
		waitOf("approve.1.2", c2, decision.WaitAny, "go"),
		waitOf("approve.1.1", c1, decision.WaitAny, "go"),
		signalledOf("approve.1.2", c2, "go", g1),
		scheduleActivity(ir.NewIdentity("Ship", "1", "2")),
		signalledOf("approve.1.1", c1, "go", g2),
		scheduleActivity(ir.NewIdentity("Ship", "1", "1")),
	}, got)
}

func TestSignals_LookaheadYieldsToEarlierWaiter(t *testing.T) {
	b := NewBuilder("Approvals", "1")
	b.Activity("Approve", "1", "1").OnCompletion(func(ev *ItemEvent) Action {
		return ev.WaitForAllSignals("x", "y")
	})
	b.Activity("Approve", "1", "2").OnCompletion(func(ev *ItemEvent) Action {
		return ev.WaitForSignal("y")
	})
	b.Activity("Ship", "1", "1").DependsOn(ir.NewIdentity("Approve", "1", "1"))
	b.Activity("Ship", "1", "2").DependsOn(ir.NewIdentity("Approve", "1", "2"))
	w := mustBuild(t, b)

	h := testutil.NewHistory()
	s := started(h, "")
	h.DecisionCompleted(s)
	s1 := h.ActivityScheduled("approve.1.1", "Approve", "1")
	s2 := h.ActivityScheduled("approve.1.2", "Approve", "1")
	c2 := h.ActivityCompleted(s2, "")
	c1 := h.ActivityCompleted(s1, "")
	sx := h.Signal("x", "")
	sy := h.Signal("y", "")
	h.DecisionStarted()

	got := decide(t, w, h, s)
	assert.Equal(t, []decision.Decision{
		waitOf("approve.1.2", c2, decision.WaitAny, "y"),
		waitOf("approve.1.1", c1, decision.WaitAll, "x", "y"),
		signalledOf("approve.1.1", c1, "x", sx),
		signalledOf("approve.1.2", c2, "y", sy),
		scheduleActivity(ir.NewIdentity("Ship", "1", "2")),
	}, got)
}

func TestSignals_CustomHandler(t *testing.T) {
	waitGo := func(ev *ItemEvent) Action { return ev.WaitForSignal("go") }

	t.Run("resumes chosen waiter", func(t *testing.T) {
		b := twoApprovals(waitGo)
		b.OnSignal("go", func(ev *SignalEvent) Action {
			items := ev.WaitingItems()
			if len(items) == 0 {
				return Ignore()
			}
			return ev.Resume(items[len(items)-1])
		})
		w := mustBuild(t, b)

		h := testutil.NewHistory()
		s := started(h, "")
		h.DecisionCompleted(s)
		s1 := h.ActivityScheduled("approve.1.1", "Approve", "1")
		s2 := h.ActivityScheduled("approve.1.2", "Approve", "1")
		c2 := h.ActivityCompleted(s2, "")
		c1 := h.ActivityCompleted(s1, "")
		g := h.Signal("go", "")
		h.DecisionStarted()

		assert.Equal(t, []decision.Decision{
			waitOf("approve.1.2", c2, decision.WaitAny, "go"),
			waitOf("approve.1.1", c1, decision.WaitAny, "go"),
			signalledOf("approve.1.1", c1, "go", g),
			scheduleActivity(ir.NewIdentity("Ship", "1", "1")),
		}, decide(t, w, h, s))
	})

	t.Run("no waiter may ignore", func(t *testing.T) {
		b := approval(waitGo)
		b.OnSignal("go", func(ev *SignalEvent) Action {
			if len(ev.WaitingItems()) == 0 {
				return Ignore()
			}
			return ev.Resume(ev.WaitingItems()[0])
		})
		w := mustBuild(t, b)

		h := testutil.NewHistory()
		s := started(h, "")
		h.DecisionCompleted(s)
		h.ActivityScheduled("approve.1.0", "Approve", "1")
		h.Signal("go", "")
		h.DecisionStarted()

		got, err := decideErr(w, h, s)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("resume of item not waiting", func(t *testing.T) {
		b := approval(waitGo)
		b.OnSignal("go", func(ev *SignalEvent) Action {
			return ev.Resume(ev.Replay().Item(shipID))
		})
		w := mustBuild(t, b)

		h, _, prev := approvedHistory()
		h.Signal("go", "")
		h.DecisionStarted()

		_, err := decideErr(w, h, prev)
		require.Error(t, err)
		assert.True(t, IsSignalResumeError(err))
		assert.Contains(t, err.Error(), "is not waiting for signals")
	})

	t.Run("resume with other signal", func(t *testing.T) {
		b := approval(waitGo)
		b.OnSignal("stop", func(ev *SignalEvent) Action {
			return ev.Resume(ev.Replay().Item(approveID))
		})
		w := mustBuild(t, b)

		h, _, prev := approvedHistory()
		h.Signal("stop", "")
		h.DecisionStarted()

		_, err := decideErr(w, h, prev)
		require.Error(t, err)
		assert.True(t, IsSignalResumeError(err))
		assert.Contains(t, err.Error(), `not waiting for signal "stop"`)
	})

	t.Run("handled names are not reserved ahead", func(t *testing.T) {
		b := approval(waitAll(time.Hour, "x", "y"))
		b.OnSignal("y", func(*SignalEvent) Action { return Ignore() })
		w := mustBuild(t, b)

		h, c, prev := approvedHistory()
		sx := h.Signal("x", "")
		h.Signal("y", "")
		h.DecisionStarted()

		assert.Equal(t, []decision.Decision{
			waitFor(c, decision.WaitAll, "x", "y"),
			signalTimer(c, time.Hour),
			signalled(c, "x", sx),
		}, decide(t, w, h, prev))
	})
}

func TestSignals_ReplayQueries(t *testing.T) {
	var waiting []*Item
	var isWaiting bool
	b := approval(func(ev *ItemEvent) Action { return ev.WaitForSignal("go") })
	b.OnSignal("peek", func(ev *SignalEvent) Action {
		r := ev.Replay()
		waiting = r.WaitingItems("GO")
		isWaiting = r.IsWaiting(r.Item(approveID))
		return nil
	})
	w := mustBuild(t, b)

	h, c, _ := approvedHistory()
	s2 := h.DecisionStarted()
	h.DecisionCompleted(s2)
	h.Marker(waitFor(c, decision.WaitAny, "go"))
	h.Signal("peek", "")
	h.DecisionStarted()

	assert.Empty(t, decide(t, w, h, s2))
	require.Len(t, waiting, 1)
	assert.Equal(t, "Approve", waiting[0].Name())
	assert.True(t, isWaiting)
}

func TestSignals_MarkerErrors(t *testing.T) {
	w := mustBuild(t, approval(waitAll(time.Hour, "x")))

	t.Run("wait for undeclared item", func(t *testing.T) {
		h := testutil.NewHistory()
		s := started(h, "")
		h.DecisionCompleted(s)
		h.Marker(decision.WaitForSignals{
			ScheduleID: "ghost.1", TriggerEventID: 1, SignalNames: []string{"x"},
			WaitType: decision.WaitAny, NextAction: decision.NextContinue,
		})
		h.DecisionStarted()

		_, err := decideErr(w, h, s)
		assert.True(t, IsIncompatibleWorkflowError(err))
	})

	t.Run("unreadable payload", func(t *testing.T) {
		h := testutil.NewHistory()
		s := started(h, "")
		h.DecisionCompleted(s)
		h.RecordedMarker(decision.WaitForSignalsMarkerName, "{")
		h.DecisionStarted()

		_, err := decideErr(w, h, s)
		var re *ReplayError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, ErrCodeMalformedMarker, re.Code)
	})

	t.Run("signalled without wait", func(t *testing.T) {
		h := testutil.NewHistory()
		s := started(h, "")
		h.DecisionCompleted(s)
		h.Marker(signalled(1, "x", 2))
		h.DecisionStarted()

		_, err := decideErr(w, h, s)
		var re *ReplayError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, ErrCodeMalformedMarker, re.Code)
	})

	t.Run("user markers are ignored", func(t *testing.T) {
		h := testutil.NewHistory()
		s := started(h, "")
		h.DecisionCompleted(s)
		h.ActivityScheduled("approve.1.0", "Approve", "1")
		h.RecordedMarker("audit", "not json")
		h.DecisionStarted()

		got, err := decideErr(w, h, s)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
