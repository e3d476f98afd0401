// Package history defines the raw history records exchanged with the
// workflow backend.
//
// A run's history is an append-only, totally ordered log of events. The
// backend hands it out newest-first together with the id of the previous
// decision task's started event, which splits the log into events already
// seen by an earlier decision task and events new to the current one.
//
// This package is transport-neutral: the SWF adapter, the in-memory
// backend, the SQLite and Redis recorders and the YAML scenario harness all
// produce and consume these records.
package history
