// Package ir provides the foundational value types shared by every other
// guflow package.
//
// This package contains identities, canonical JSON and content hashing only.
// All other internal packages import ir; ir imports nothing internal. This
// keeps the identity rules in one place for the graph, the interpreter and
// the recorders.
//
// Key design constraints:
//   - Identity equality is case-insensitive (Unicode case folding)
//   - A ScheduleID is derived from an Identity, never generated
//   - Marker payloads are serialized with MarshalCanonical so that two
//     replays of the same history produce byte-identical decisions
//   - No float types in canonical JSON - durations travel as int64 seconds
package ir
