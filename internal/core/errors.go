package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input. Nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers both absent records and records owned by someone
	// else; callers cannot tell the two apart.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the balance could not be reconciled within the
	// retry budget because of concurrent writers.
	ErrConflict = errors.New("conflict: concurrent update, retry later")
	// ErrBudgetInUse rejects deleting a budget that still has transactions.
	ErrBudgetInUse = errors.New("budget still has transactions")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
