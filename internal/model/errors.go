package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for operations on an unknown memory id.
	ErrNotFound = errors.New("memory not found")

	// ErrIndexUnavailable marks a lexical or vector backend failure.
	// Retrieval degrades to the remaining signal instead of failing.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrConcurrentModification is returned when an optimistic update lost
	// the race twice in a row.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// ValidationError rejects malformed input before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
