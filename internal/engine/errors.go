package engine

import "errors"

var (
	// ErrInvalidRule is returned when a rule create/update violates an invariant.
	// The store is left unchanged.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrNotFound is returned when an operation references a rule or alert id
	// that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMetricUnavailable marks a failed or timed-out metric query. The
	// affected rule is skipped for the tick and retried on the next one.
	ErrMetricUnavailable = errors.New("metric unavailable")

	// ErrNotRunning is returned when an evaluation pass is requested while
	// the engine is not initialized or already shut down.
	ErrNotRunning = errors.New("engine not running")
)
