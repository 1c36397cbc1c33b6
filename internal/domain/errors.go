/**
 * @description
 * This file defines the error taxonomy shared across the service. Data
 * integrity violations surface to callers; catalog resolution gaps and lost
 * races are recovered locally by the components that hit them.
 */
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriptionNotFound is returned when a subscription id or lookup
	// resolves to nothing.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrPlanNotFound is returned by the catalog when a plan id no longer
	// resolves. The snapshot builder treats it as a soft failure.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrAddonNotFound is the add-on counterpart of ErrPlanNotFound.
	ErrAddonNotFound = errors.New("addon not found")

	// ErrConflict is returned when a lifecycle operation loses a race against
	// a concurrent transition on the same subscription. Sweeps treat it as a
	// benign no-op; handlers surface it as a conflict.
	ErrConflict = errors.New("subscription was modified concurrently")
)

// ValidationError reports malformed input. It is never partially applied:
// the operation that raises it leaves no trace.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError reports a lifecycle operation attempted on a
// subscription that is not in the required source state.
type InvalidTransitionError struct {
	Op   string
	From SubscriptionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a subscription in status %q", e.Op, e.From)
}

// NewInvalidTransition builds an InvalidTransitionError.
func NewInvalidTransition(op string, from SubscriptionStatus) *InvalidTransitionError {
	return &InvalidTransitionError{Op: op, From: from}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}
