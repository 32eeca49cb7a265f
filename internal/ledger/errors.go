package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrConflict        = errors.New("order ledger conflict")
	ErrValidation      = errors.New("invalid ledger entry")
	ErrAlreadyRecorded = errors.New("ledger entry already recorded")

	// ErrConcurrentUpdate is an ErrConflict caused by another writer; retrying can succeed.
	ErrConcurrentUpdate = fmt.Errorf("%w: order changed concurrently", ErrConflict)
)

// ValidationError names the offending input field as a JSONPath.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(path, format string, args ...any) error {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}
