package types

import "errors"

// Error taxonomy shared by all components. Package-level errors wrap one of these
// so callers can classify failures with errors.Is.
var (
	// ErrConfiguration covers missing credentials and dimension mismatches.
	// Fatal at startup of the affected component, never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrProvider is returned when the embedding provider fails
	ErrProvider = errors.New("embedding provider failed")

	// ErrCorruptState marks unreadable or mismatched persisted files.
	// It is recovered internally by starting from an empty state.
	ErrCorruptState = errors.New("corrupt persisted state")

	// ErrCapacity is returned when the vector index is full
	ErrCapacity = errors.New("vector index capacity exceeded")
)
