package ir

// Version constants for the record schema and engine.
const (
	// IRVersion is the record schema version stamped on journal rows.
	IRVersion = "1"

	// EngineVersion is the causeway engine version.
	EngineVersion = "0.1.0"
)
