/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All engine error kinds in one place. Callers match with errors.Is for
  classification and errors.As for the structured variants, which carry
  the context a user-visible message needs.

ERROR CATEGORIES:
  1. Lookup errors    - referenced entity absent
  2. Transition errors - state machine rejects the requested move
  3. Capacity errors   - no room and no override
  4. Voucher errors    - insufficient or invalid at apply time
  5. Idempotency guards - already no-show, already blocked
  6. Concurrency       - CAS conflict on a conditional write (retryable)

SEE ALSO:
  - statemachine.go, trust.go, voucher.go: producers of these errors
  - api/handlers.go: maps classifications to HTTP statuses
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced reservation, showing, or
	// voucher does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when the state machine rejects the
	// requested move. No partial mutation occurs.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrCapacityExceeded is returned when a capacity-consuming transition
	// would overbook a showing and no override flag is set.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInsufficientOrInvalid is returned when a voucher fails validation
	// at apply time (not found, expired, used, or inactive).
	ErrInsufficientOrInvalid = errors.New("voucher insufficient or invalid")

	// ErrAlreadyNoShow is the idempotency guard on markNoShow.
	ErrAlreadyNoShow = errors.New("reservation already marked no-show")

	// ErrAlreadyBlocked is the idempotency guard on blocking a customer.
	ErrAlreadyBlocked = errors.New("customer already blocked")

	// ErrCustomerBlocked is returned when a blocked customer attempts to book.
	ErrCustomerBlocked = errors.New("customer is blocked")

	// ErrConcurrentModification is returned when a conditional write loses a
	// race. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrCodeExhausted is returned when voucher code generation keeps
	// colliding with existing codes.
	ErrCodeExhausted = errors.New("voucher code generation exhausted retries")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which entity was missing.
type NotFoundError struct {
	Kind string // "reservation", "showing", "voucher"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransitionError reports a rejected state machine move.
type TransitionError struct {
	ReservationID ReservationID
	From          ReservationStatus
	To            ReservationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("reservation %s: cannot transition %s -> %s", e.ReservationID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CapacityError reports a refused capacity acquisition.
type CapacityError struct {
	ShowingID ShowingID
	Requested int
	Remaining int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("showing %s: requested %d seats, %d remaining", e.ShowingID, e.Requested, e.Remaining)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// VoucherError reports why a voucher could not be applied.
type VoucherError struct {
	Code  string
	State VoucherState
}

func (e *VoucherError) Error() string {
	return fmt.Sprintf("voucher %s: %s", e.Code, e.State)
}

func (e *VoucherError) Unwrap() error { return ErrInsufficientOrInvalid }

// BlockedError reports a booking refused because the customer is blocked.
type BlockedError struct {
	Email     string
	Reason    string
	BlockedAt string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("customer %s is blocked (%s)", e.Email, e.Reason)
}

func (e *BlockedError) Unwrap() error { return ErrCustomerBlocked }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is caused by the request rather
// than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrInsufficientOrInvalid) ||
		errors.Is(err, ErrAlreadyNoShow) ||
		errors.Is(err, ErrAlreadyBlocked) ||
		errors.Is(err, ErrCustomerBlocked)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
