package engine

import (
	"slices"
	"time"

	"github.com/roach88/guflow/internal/decision"
	"github.com/roach88/guflow/internal/history"
	"github.com/roach88/guflow/internal/ir"
)

type occState int

const (
	occWaiting occState = iota
	occSignalled
	occTimedOut
)

// occurrence is one signal wait of an item, scoped by the event that
// started it. An item may wait many times in a run; each wait is resolved
// independently, either by signals or by its timer.
type occurrence struct {
	item        *Item
	trigger     int64
	names       []string
	waitType    decision.WaitType
	next        decision.NextAction
	outstanding []string
	received    []string
	timedOut    []string
	state       occState

	// reserved maps names resolved ahead of time to the later signal event
	// of this task that will deliver them.
	reserved map[string]int64
}

func (o *occurrence) receive(name string) {
	if i := slices.Index(o.outstanding, name); i >= 0 {
		o.outstanding = slices.Delete(o.outstanding, i, i+1)
		o.received = append(o.received, name)
	}
}

func (o *occurrence) hasReceived(name string) bool {
	return slices.Contains(o.received, name)
}

func (o *occurrence) hasTimedOut(name string) bool {
	return slices.Contains(o.timedOut, name)
}

// earlier orders occurrences by when they started waiting.
func (o *occurrence) earlier(other *occurrence) bool {
	if o.trigger != other.trigger {
		return o.trigger < other.trigger
	}
	return o.item.order < other.item.order
}

type occKey struct {
	item    *Item
	trigger int64
}

type rendezvous struct {
	occs     []*occurrence
	byKey    map[occKey]*occurrence
	reserved map[int64]*occurrence
}

func newRendezvous() *rendezvous {
	return &rendezvous{
		byKey:    make(map[occKey]*occurrence),
		reserved: make(map[int64]*occurrence),
	}
}

func (rv *rendezvous) get(it *Item, trigger int64) *occurrence {
	return rv.byKey[occKey{item: it, trigger: trigger}]
}

func (rv *rendezvous) add(o *occurrence) {
	rv.occs = append(rv.occs, o)
	rv.byKey[occKey{item: o.item, trigger: o.trigger}] = o
}

// earliestWaitingFor returns the earliest waiting occurrence that still
// expects the named signal.
func (rv *rendezvous) earliestWaitingFor(name string) *occurrence {
	var best *occurrence
	for _, o := range rv.occs {
		if o.state != occWaiting || !slices.Contains(o.outstanding, name) {
			continue
		}
		if best == nil || o.earlier(best) {
			best = o
		}
	}
	return best
}

// earliestWaitingOf returns the item's earliest waiting occurrence,
// restricted to those expecting name unless name is empty.
func (rv *rendezvous) earliestWaitingOf(it *Item, name string) *occurrence {
	var best *occurrence
	for _, o := range rv.occs {
		if o.item != it || o.state != occWaiting {
			continue
		}
		if name != "" && !slices.Contains(o.outstanding, name) {
			continue
		}
		if best == nil || o.earlier(best) {
			best = o
		}
	}
	return best
}

func (rv *rendezvous) latestOf(it *Item) *occurrence {
	var latest *occurrence
	for _, o := range rv.occs {
		if o.item == it && (latest == nil || o.trigger > latest.trigger) {
			latest = o
		}
	}
	return latest
}

// waitedEarlier reports whether an occurrence that started waiting before
// o also expects the named signal, and so would take its next delivery.
func (rv *rendezvous) waitedEarlier(name string, o *occurrence) bool {
	for _, other := range rv.occs {
		if other == o || other.state != occWaiting {
			continue
		}
		if other.earlier(o) && slices.Contains(other.outstanding, name) {
			return true
		}
	}
	return false
}

func (rv *rendezvous) waitingItems(name string) []*Item {
	var waiting []*occurrence
	for _, o := range rv.occs {
		if o.state == occWaiting && slices.Contains(o.outstanding, name) {
			waiting = append(waiting, o)
		}
	}
	slices.SortStableFunc(waiting, func(a, b *occurrence) int {
		switch {
		case a.earlier(b):
			return -1
		case b.earlier(a):
			return 1
		}
		return 0
	})
	var items []*Item
	for _, o := range waiting {
		if !slices.Contains(items, o.item) {
			items = append(items, o.item)
		}
	}
	return items
}

// applyMarker folds a recorded bookkeeping marker into the occurrence state.
// Markers for already resolved occurrences are tolerated.
func (rv *rendezvous) applyMarker(w *Workflow, eventID int64, bk decision.Bookkeeping) error {
	switch m := bk.(type) {
	case decision.WaitForSignals:
		it := w.itemByScheduleID(ir.ScheduleIDFromString(m.ScheduleID))
		if it == nil {
			return newIncompatibleError(eventID, "signal wait recorded for undeclared item %q", m.ScheduleID)
		}
		if rv.get(it, m.TriggerEventID) != nil {
			return nil
		}
		rv.add(&occurrence{
			item:        it,
			trigger:     m.TriggerEventID,
			names:       m.SignalNames,
			waitType:    m.WaitType,
			next:        m.NextAction,
			outstanding: slices.Clone(m.SignalNames),
		})

	case decision.WorkflowItemSignalled:
		o, err := rv.markerOccurrence(w, eventID, m.ScheduleID, m.TriggerEventID)
		if err != nil || o.state != occWaiting {
			return err
		}
		o.receive(m.SignalName)
		if o.waitType == decision.WaitAny || len(o.outstanding) == 0 {
			o.state = occSignalled
		}

	case decision.WorkflowItemSignalsTimedout:
		o, err := rv.markerOccurrence(w, eventID, m.ScheduleID, m.TriggerEventID)
		if err != nil || o.state != occWaiting {
			return err
		}
		o.timedOut = m.TimedoutSignalNames
		o.outstanding = nil
		o.state = occTimedOut
	}
	return nil
}

func (rv *rendezvous) markerOccurrence(w *Workflow, eventID int64, sid string, trigger int64) (*occurrence, error) {
	it := w.itemByScheduleID(ir.ScheduleIDFromString(sid))
	if it == nil {
		return nil, newIncompatibleError(eventID, "signal marker recorded for undeclared item %q", sid)
	}
	o := rv.get(it, trigger)
	if o == nil {
		return nil, &ReplayError{
			Code:    ErrCodeMalformedMarker,
			Message: "signal marker without a recorded wait",
			EventID: eventID,
		}
	}
	return o, nil
}

// WaitForSignalsAction makes an item wait for signals after the event that
// triggered it. By default the wait resolves into Continue(item).
type WaitForSignalsAction struct {
	item       *Item
	trigger    history.Event
	names      []string
	waitType   decision.WaitType
	next       decision.NextAction
	timeout    time.Duration
	hasTimeout bool
}

// For bounds the wait. The deadline is measured from the triggering event,
// so a late decision task shortens the timer accordingly.
func (a WaitForSignalsAction) For(timeout time.Duration) WaitForSignalsAction {
	a.timeout = timeout
	a.hasTimeout = true
	return a
}

// ThenReschedule schedules the item again, instead of continuing with its
// children, once the wait resolves by signal.
func (a WaitForSignalsAction) ThenReschedule() WaitForSignalsAction {
	a.next = decision.NextReschedule
	return a
}

func (a WaitForSignalsAction) lower(r *Replay) ([]decision.Decision, error) {
	if a.item == nil || a.trigger.ID <= 0 {
		return nil, newInvalidActionError(r.current.ID, "signal wait without a triggering item event")
	}
	if len(a.names) == 0 {
		return nil, newInvalidActionError(r.current.ID, "signal wait of %s names no signal", a.item)
	}
	if r.rv.get(a.item, a.trigger.ID) != nil {
		return nil, nil
	}

	sid := a.item.sid.String()
	out := []decision.Decision{decision.WaitForSignals{
		ScheduleID:     sid,
		TriggerEventID: a.trigger.ID,
		SignalNames:    slices.Clone(a.names),
		WaitType:       a.waitType,
		NextAction:     a.next,
	}}
	r.rv.add(&occurrence{
		item:        a.item,
		trigger:     a.trigger.ID,
		names:       slices.Clone(a.names),
		waitType:    a.waitType,
		next:        a.next,
		outstanding: slices.Clone(a.names),
	})

	if a.hasTimeout {
		// The timer id is the item's schedule id, so the timer of an earlier
		// wait resolved by signal has to go first.
		if r.openSignalTimer(a.item) {
			out = append(out, decision.CancelTimer{TimerID: sid})
		}
		r.signalTimers[a.item] = startedInTask
		out = append(out, decision.ScheduleTimer{
			TimerID: sid,
			Delay:   r.remaining(a.timeout, a.trigger.Timestamp),
			Control: decision.TimerControl{
				TimerName:      a.item.Name(),
				TimerType:      decision.TimerSignal,
				TriggerEventID: a.trigger.ID,
			},
		})
	}
	r.log.Debug("item waiting for signals",
		"item", a.item.String(), "trigger_event_id", a.trigger.ID,
		"signals", a.names, "wait_type", string(a.waitType))
	return out, nil
}

// remaining corrects a timeout for decision task latency: the timer fires
// at triggeredAt+timeout regardless of when the task is processed.
func (r *Replay) remaining(timeout time.Duration, triggeredAt time.Time) time.Duration {
	if triggeredAt.IsZero() || r.now.IsZero() {
		return timeout
	}
	d := timeout - r.now.Sub(triggeredAt)
	return min(max(d, 0), timeout)
}

// deliverSignalAction routes a signal without a custom handler to the
// earliest waiting occurrence expecting it.
type deliverSignalAction struct {
	name     string
	signalID int64
}

func (a deliverSignalAction) lower(r *Replay) ([]decision.Decision, error) {
	if o, ok := r.rv.reserved[a.signalID]; ok {
		delete(r.rv.reserved, a.signalID)
		delete(o.reserved, a.name)
		return []decision.Decision{signalledDecision(o, a.name, a.signalID)}, nil
	}
	o := r.rv.earliestWaitingFor(a.name)
	if o == nil {
		r.log.Debug("signal ignored, no item is waiting for it", "signal", a.name, "event_id", a.signalID)
		return nil, nil
	}
	return r.signalOccurrence(o, a.name, a.signalID)
}

// resumeAction is an explicit resume from a custom signal handler.
type resumeAction struct {
	item     *Item
	name     string
	signalID int64
}

func (a resumeAction) lower(r *Replay) ([]decision.Decision, error) {
	if a.item == nil {
		return nil, newInvalidActionError(r.current.ID, "resume of an undeclared item")
	}
	if r.rv.earliestWaitingOf(a.item, "") == nil {
		return nil, newSignalResumeError(a.signalID, "%s is not waiting for signals", a.item)
	}
	o := r.rv.earliestWaitingOf(a.item, a.name)
	if o == nil {
		return nil, newSignalResumeError(a.signalID, "%s is not waiting for signal %q", a.item, a.name)
	}
	return r.signalOccurrence(o, a.name, a.signalID)
}

func signalledDecision(o *occurrence, name string, signalID int64) decision.WorkflowItemSignalled {
	return decision.WorkflowItemSignalled{
		ScheduleID:     o.item.sid.String(),
		TriggerEventID: o.trigger,
		SignalName:     name,
		SignalEventID:  signalID,
	}
}

// signalOccurrence records that a waiting occurrence received a signal and
// resolves it when its wait type is satisfied.
//
// Under All, the wait also resolves when every name still outstanding is
// delivered later in this same task, before the wait's timer fires, by a
// signal that no custom handler and no earlier waiter would take. Those
// later signals are reserved: they still record their own Signalled
// marker when the fold reaches them, but the next action runs now. Reserved
// names count as received from that point, so a When predicate or handler
// evaluated by the early next action sees SignalReceived report true for a
// signal whose event the fold has not reached yet.
func (r *Replay) signalOccurrence(o *occurrence, name string, signalID int64) ([]decision.Decision, error) {
	out := []decision.Decision{signalledDecision(o, name, signalID)}
	o.receive(name)

	if o.waitType == decision.WaitAll && len(o.outstanding) > 0 {
		ahead := r.lookahead(o, signalID)
		if ahead == nil {
			return out, nil
		}
		o.reserved = ahead
		for n, id := range ahead {
			r.rv.reserved[id] = o
			o.receive(n)
		}
	}
	o.state = occSignalled

	var next Action = Continue(o.item)
	if o.next == decision.NextReschedule {
		next = Reschedule(o.item)
	}
	ds, err := next.lower(r)
	if err != nil {
		return nil, err
	}
	return append(out, ds...), nil
}

func (r *Replay) lookahead(o *occurrence, after int64) map[string]int64 {
	fire := r.signalTimerFire(o, after)
	found := make(map[string]int64, len(o.outstanding))
	for _, e := range r.newEvents {
		if e.ID <= after {
			continue
		}
		if fire > 0 && e.ID > fire {
			break
		}
		if e.Type != history.WorkflowExecutionSignaled {
			continue
		}
		name := ir.NormalizeName(e.SignalName)
		if _, dup := found[name]; dup || !slices.Contains(o.outstanding, name) {
			continue
		}
		if r.w.SignalHandled(name) {
			continue
		}
		if _, taken := r.rv.reserved[e.ID]; taken {
			continue
		}
		if r.rv.waitedEarlier(name, o) {
			continue
		}
		found[name] = e.ID
	}
	if len(found) < len(o.outstanding) {
		return nil
	}
	return found
}

// signalTimerFire returns the id of the new event firing o's signal timer
// after the given event, or 0.
func (r *Replay) signalTimerFire(o *occurrence, after int64) int64 {
	for _, e := range r.newEvents {
		if e.ID <= after || e.Type != history.TimerFired {
			continue
		}
		t, ok := r.refs[e.StartedEventID]
		if ok && t.item == o.item && t.timer.TimerType == decision.TimerSignal && t.timer.TriggerEventID == o.trigger {
			return e.ID
		}
	}
	return 0
}

// signalsTimedoutAction resolves a still waiting occurrence by its timer.
type signalsTimedoutAction struct {
	occ  *occurrence
	fire history.Event
}

func (a signalsTimedoutAction) lower(r *Replay) ([]decision.Decision, error) {
	o := a.occ
	if o.state != occWaiting {
		return nil, nil
	}
	out := []decision.Decision{decision.WorkflowItemSignalsTimedout{
		ScheduleID:            o.item.sid.String(),
		TriggerEventID:        o.trigger,
		TimedoutSignalNames:   slices.Clone(o.outstanding),
		TimeoutTriggerEventID: a.fire.ID,
	}}
	o.timedOut = o.outstanding
	o.outstanding = nil
	o.state = occTimedOut

	ev := r.itemEvent(a.fire, o.item, OutcomeSignalsTimedout)
	next, err := ev.Interpret(r)
	if err != nil {
		return nil, err
	}
	ds, err := next.lower(r)
	if err != nil {
		return nil, err
	}
	return append(out, ds...), nil
}
