// Package apperr defines the error taxonomy shared by the stores, the domain
// services and the API layer. Every failure leaving a store or service is one
// of these types, so callers can branch with errors.Is and errors.As.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("record not found")
	ErrQuotaExceeded     = errors.New("plan quota exceeded")
	ErrUniqueness        = errors.New("uniqueness conflict")
	ErrReferential       = errors.New("referential conflict")
	ErrAllocationFailed  = errors.New("invoice number allocation failed")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrConflict marks a transient write conflict (lost compare-and-swap,
	// serialization failure, deadlock). It is retried internally and never
	// surfaced to API callers on its own.
	ErrConflict = errors.New("write conflict")
)

type ValidationError struct {
	Field  string
	Reason string
}

func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type QuotaExceededError struct {
	Resource string
	Current  int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %s %d/%d", ErrQuotaExceeded, e.Resource, e.Current, e.Limit)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

type UniquenessConflictError struct {
	Field string
}

func (e *UniquenessConflictError) Error() string {
	if e.Field == "" {
		return ErrUniqueness.Error()
	}
	return fmt.Sprintf("%s: %s already in use", ErrUniqueness, e.Field)
}

func (e *UniquenessConflictError) Unwrap() error { return ErrUniqueness }

// ReferentialConflictError reports a RESTRICT rule blocking a delete.
type ReferentialConflictError struct {
	Parent string
	Child  string
	Count  int64
}

func (e *ReferentialConflictError) Error() string {
	return fmt.Sprintf("%s: %s is referenced by %d %s row(s)", ErrReferential, e.Parent, e.Count, e.Child)
}

func (e *ReferentialConflictError) Unwrap() error { return ErrReferential }

type AllocationFailedError struct {
	Prefix   string
	Attempts int
	Err      error
}

func (e *AllocationFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: prefix %q after %d attempt(s)", ErrAllocationFailed, e.Prefix, e.Attempts)
	}
	return fmt.Sprintf("%s: prefix %q after %d attempt(s): %v", ErrAllocationFailed, e.Prefix, e.Attempts, e.Err)
}

func (e *AllocationFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAllocationFailed}
	}
	return []error{ErrAllocationFailed, e.Err}
}

type StoreUnavailableError struct {
	Op  string
	Err error
}

func Unavailable(op string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Op: op, Err: err}
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrAllocationFailed) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrConflict)
}

// Classified reports whether err already belongs to the taxonomy.
func Classified(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrNotFound, ErrQuotaExceeded, ErrUniqueness, ErrReferential,
		ErrAllocationFailed, ErrStoreUnavailable, ErrInvalidTransition, ErrConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
