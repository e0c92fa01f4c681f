package ir

// Version constants for the journal format and engine.
const (
	// FormatVersion is the journal encoding version.
	FormatVersion = "1"

	// EngineVersion is the chainer engine version.
	EngineVersion = "0.1.0"
)
