package ir

// Version constants for the engine and its persisted payloads.
const (
	// MarkerVersion is the version of the bookkeeping marker payload format.
	// Markers written by any prior engine must stay readable.
	MarkerVersion = "1"

	// EngineVersion is the guflow engine version.
	EngineVersion = "0.1.0"
)
