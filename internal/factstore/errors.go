package factstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for user data problems. These are recoverable: the
// requested operation is aborted and the store remains consistent.
var (
	// ErrNameInUse indicates a fact name already bound to a different fact.
	ErrNameInUse = errors.New("fact name already in use")

	// ErrCertaintyRange indicates a certainty factor outside the template's declared range.
	ErrCertaintyRange = errors.New("certainty factor out of range")

	// ErrSlotCount indicates a slot vector that does not match the template.
	ErrSlotCount = errors.New("slot count mismatch")

	// ErrSlotShape indicates a multifield value in a single-field slot.
	ErrSlotShape = errors.New("slot shape mismatch")

	// ErrUnknownSlot indicates a slot name the template does not declare.
	ErrUnknownSlot = errors.New("unknown slot")

	// ErrTableSize indicates a hash table that cannot be allocated.
	ErrTableSize = errors.New("invalid hash table size")
)

// FactErrorCode categorizes fact errors.
type FactErrorCode string

const (
	// ErrCodeNameConflict indicates a duplicate fact name.
	ErrCodeNameConflict FactErrorCode = "NAME_CONFLICT"

	// ErrCodeCertainty indicates an out-of-range certainty factor.
	ErrCodeCertainty FactErrorCode = "CERTAINTY_RANGE"

	// ErrCodeShape indicates a slot vector that does not fit the template.
	ErrCodeShape FactErrorCode = "SLOT_SHAPE"
)

// FactError is a user data error raised while validating or deduplicating a fact.
type FactError struct {
	Code     FactErrorCode
	Template string
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *FactError) Error() string {
	if e.Template != "" {
		return fmt.Sprintf("%s: %s (template=%s)", e.Code, e.Message, e.Template)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the sentinel for errors.Is matching.
func (e *FactError) Unwrap() error {
	return e.Err
}

// IsNameConflict returns true if the error is a duplicate-name error.
// Uses errors.Is to handle wrapped errors.
func IsNameConflict(err error) bool {
	return errors.Is(err, ErrNameInUse)
}

// IsCertaintyError returns true if the error is a certainty range error.
func IsCertaintyError(err error) bool {
	return errors.Is(err, ErrCertaintyRange)
}
