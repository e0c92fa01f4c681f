package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrHalted is returned by every operation after a system error stopped
	// the engine.
	ErrHalted = errors.New("engine halted")

	// ErrReentrant is returned when an operation is started from inside goal
	// inference (for example by an evaluator function calling back into the
	// engine).
	ErrReentrant = errors.New("engine operation started during goal inference")

	// ErrUnknownFact is returned when an operation names a fact that is not live.
	ErrUnknownFact = errors.New("unknown fact")

	// ErrGoalFact is returned when a caller tries to retract or modify a goal.
	// Goals are owned by the goal queue.
	ErrGoalFact = errors.New("goal facts are managed by the engine")
)

// SystemError represents a violated engine invariant.
//
// System errors include:
//   - Goal support already zero when a supporting match is removed
//   - Goal marker missing on a match that must carry one
//   - A join that cannot be primed from any initialized memory
//   - A fact table that cannot be sized
//
// A system error is never returned from the middle of an operation; it is
// raised with panic, recovered at the operation boundary, and halts the
// engine. Continuing would risk silently wrong inference.
type SystemError struct {
	// Code identifies the invariant.
	Code SystemErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// SystemErrorCode categorizes system errors.
type SystemErrorCode string

const (
	// ErrCodeGoalSupport indicates a goal support count that would go negative.
	ErrCodeGoalSupport SystemErrorCode = "GOAL_SUPPORT"

	// ErrCodeGoalMarker indicates a missing or duplicated goal marker.
	ErrCodeGoalMarker SystemErrorCode = "GOAL_MARKER"

	// ErrCodePriming indicates incremental reset could not make progress.
	ErrCodePriming SystemErrorCode = "PRIMING"

	// ErrCodeTable indicates the fact table could not be allocated.
	ErrCodeTable SystemErrorCode = "FACT_TABLE"

	// ErrCodeReentrant indicates goal inference was entered recursively.
	ErrCodeReentrant SystemErrorCode = "REENTRANT_INFERENCE"
)

// Error implements the error interface.
func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsSystemError returns true if the error is (or wraps) a SystemError.
// Uses errors.As to handle wrapped errors.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// raise aborts the current operation with a system error.
func raise(code SystemErrorCode, format string, args ...any) {
	panic(&SystemError{Code: code, Message: fmt.Sprintf(format, args...)})
}

// raiseWith aborts the current operation with a system error carrying details.
func raiseWith(code SystemErrorCode, details map[string]string, format string, args ...any) {
	panic(&SystemError{Code: code, Message: fmt.Sprintf(format, args...), Details: details})
}
