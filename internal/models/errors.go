package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is. Structured errors below unwrap to
// these so callers can classify without string matching.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrBusinessRule = errors.New("business rule violated")
)

// ValidationError reports malformed or missing input. It is always raised
// before any mutation.
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

func (e *ValidationError) Unwrap() error { return ErrValidation }

// BusinessRuleError reports a violated precondition about system state
// (rule not ready, case already allocated, no eligible agents). No mutation
// has occurred when one is returned.
type BusinessRuleError struct {
	Message string
}

func (e *BusinessRuleError) Error() string { return e.Message }

func (e *BusinessRuleError) Unwrap() error { return ErrBusinessRule }

// NotFoundError identifies the entity that failed to resolve.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
