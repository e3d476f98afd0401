// Package decision defines the wire-level commands a decision task responds
// with.
//
// Besides the backend's native decisions there are three bookkeeping
// decisions (WaitForSignals, WorkflowItemSignalled and
// WorkflowItemSignalsTimedout). They persist signal-wait state into the
// run's history as RecordMarker decisions with a canonical JSON payload, so
// that the next replay can rebuild that state from history alone. Their
// marker names and payload fields are a compatibility surface.
package decision
