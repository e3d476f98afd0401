// Package store records processed decision tasks so they can be replayed
// offline.
//
// The log is append-only:
//   - runs: one row per workflow run seen
//   - events: history events, once per run, keyed by event id
//   - decision_tasks: the batch each task produced, as canonical JSON lines
//     plus their DecisionsHash
//
// Replaying a recorded task against the same workflow definitions must
// reproduce its batch byte for byte. VerifyTasks and VerifyAll check this.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// The redisstore subpackage implements the same Recorder and Reader
// interfaces on Redis.
package store
