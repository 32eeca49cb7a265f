package service

import (
	"errors"
	"fmt"
)

var (
	ErrCheckoutNotFound      = errors.New("checkout not found")
	ErrCheckoutNotModifiable = errors.New("checkout can no longer be modified")
	ErrConflict              = errors.New("checkout is being modified by another request")
	ErrNotReady              = errors.New("checkout is not ready for completion")
	ErrValidation            = errors.New("invalid checkout request")
	ErrInternal              = errors.New("internal checkout error")

	IllegalTransitionError = errors.New("illegal checkout status transition")

	errTaxUnavailable = errors.New("tax provider unavailable")
)

// ValidationError names the offending request field as a JSONPath.
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
