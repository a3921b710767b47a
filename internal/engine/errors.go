package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by engine operations. The HTTP layer and the
// CLI map these onto status codes and exit messages.
var (
	ErrNotEligible              = errors.New("actor is not eligible for this operation")
	ErrInvalidState             = errors.New("entity is not in a state that allows this operation")
	ErrAlreadyAssigned          = errors.New("user already claimed this module")
	ErrCapacityExceeded         = errors.New("module assignee cap reached")
	ErrConcurrencyLimitReached  = errors.New("concurrent claim ceiling reached")
	ErrDuplicatePendingDelivery = errors.New("a pending delivery for this module already exists")
	ErrAllocationMismatch       = errors.New("allocations do not sum to the total score")
	ErrConflict                 = errors.New("conflicting concurrent update, retry")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationf(field, format string, args ...any) error {
	return ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
