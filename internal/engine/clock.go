package engine

import "time"

// Clock supplies the decision-task time when the history carries no
// timestamps.
//
// Replays never read wall-clock time when the history provides it: the
// task time is the timestamp of the newest event (DecisionTaskStarted), so
// replaying the same history always yields the same decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
