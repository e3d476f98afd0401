// Package engine computes the next decisions of a workflow run.
//
// A workflow is a static graph of items (activities, timers, lambdas and
// child workflows) declared with a Builder. Given the run's event history
// and the id of the previous DecisionTaskStarted event, the engine replays
// the history against the graph and returns the decision batch the client
// should submit.
//
// ARCHITECTURE:
//
// Replay is a pure fold:
//  1. Old events (up to previousStartedEventID) rebuild item state only.
//  2. New records of the run's own earlier decisions (scheduled, started,
//     marker and timer bookkeeping) are folded in next, since they logically
//     happened before any other new event.
//  3. Remaining new events are interpreted oldest first. Each yields an
//     Action which is lowered to decisions against the state at that event.
//
// Actions form a monoid under Combine with Ignore as identity. Lowering is
// the only place decisions are produced, so handlers never see decisions.
//
// Signals rendezvous with items through WaitForSignals markers. Every wait,
// delivered signal and signal timeout is recorded as a marker, which makes
// replay independent of when the decider process ran.
//
// Determinism: the same workflow and history always yield the same batch.
// Items are visited in declaration order and no map iteration order leaks
// into output. The clock is consulted only when the history carries no
// timestamps.
package engine
