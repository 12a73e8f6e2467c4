/*
errors.go - Error taxonomy for the funding ledger

ERROR CATEGORIES:
  1. Business outcomes  - NoEligibleApprovalError, InsufficientNightsError
  2. Transient          - ConcurrentModificationError (retried internally)
  3. Integrity defects  - InvariantViolationError (logged for operators)
  4. Lookup/validation  - ErrApprovalNotFound, ErrInvalidBooking, ...

PROPAGATION:
  ConcurrentModificationError is retried up to the configured attempt count
  before it surfaces. Everything else surfaces immediately, and the
  surrounding transaction is rolled back in full.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientNights) {
      msg := ledger.UserMessage(err) // "insufficient approved nights remaining"
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNoEligibleApproval     = errors.New("no eligible approval")
	ErrInsufficientNights     = errors.New("insufficient approved nights")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrInvariantViolation     = errors.New("ledger invariant violated")

	ErrApprovalNotFound  = errors.New("approval not found")
	ErrGuestNotFound     = errors.New("guest not found")
	ErrUsageNotFound     = errors.New("usage record not found")
	ErrInvalidApproval   = errors.New("invalid approval")
	ErrInvalidBooking    = errors.New("invalid booking")
	ErrInvalidTransition = errors.New("invalid usage transition")
	ErrAlreadyAllocated  = errors.New("booking already allocated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NoEligibleApprovalError means no Approval of the guest is valid for the stay.
type NoEligibleApprovalError struct {
	GuestID   GuestID
	BookingID BookingID
	Pool      Pool
	Stay      Stay
}

func (e *NoEligibleApprovalError) Error() string {
	return fmt.Sprintf("no eligible approval for guest %s booking %s (%s pool, stay %s)",
		e.GuestID, e.BookingID, e.Pool, e.Stay)
}

func (e *NoEligibleApprovalError) Unwrap() error { return ErrNoEligibleApproval }

// InsufficientNightsError means eligible Approvals exist but their combined
// remaining balance cannot cover the request.
type InsufficientNightsError struct {
	BookingID BookingID
	Pool      Pool
	Requested int
	Available int
}

func (e *InsufficientNightsError) Error() string {
	return fmt.Sprintf("insufficient %s nights for booking %s: requested %d, available %d",
		e.Pool, e.BookingID, e.Requested, e.Available)
}

func (e *InsufficientNightsError) Unwrap() error { return ErrInsufficientNights }

// Shortfall is how many nights are missing.
func (e *InsufficientNightsError) Shortfall() int { return e.Requested - e.Available }

// ConcurrentModificationError is returned once the retry budget is spent.
type ConcurrentModificationError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s: concurrent modification after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrConcurrentModification }

// Invariant violation kinds.
const (
	ViolationNegativeBalance = "negative_balance"
	ViolationExceedsApproved = "exceeds_approved"
	ViolationCounterDrift    = "counter_drift"
	ViolationSchema          = "schema_constraint"
)

// InvariantViolationError signals a data-integrity defect, not a user error.
type InvariantViolationError struct {
	ApprovalID ApprovalID
	Pool       Pool
	Kind       string
	Expected   int // what the records say (or the bound)
	Actual     int // what the counter says (or would become)
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation (%s) on approval %s %s pool: expected %d, actual %d",
		e.Kind, e.ApprovalID, e.Pool, e.Expected, e.Actual)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is a business outcome or bad input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoEligibleApproval) ||
		errors.Is(err, ErrInsufficientNights) ||
		errors.Is(err, ErrInvalidApproval) ||
		errors.Is(err, ErrInvalidBooking) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyAllocated)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound) ||
		errors.Is(err, ErrGuestNotFound) ||
		errors.Is(err, ErrUsageNotFound)
}

// UserMessage translates ledger errors into what the booking workflow shows.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoEligibleApproval), errors.Is(err, ErrInsufficientNights):
		return "insufficient approved nights remaining"
	case errors.Is(err, ErrConcurrentModification):
		return "the funding balance is busy, please retry"
	case errors.Is(err, ErrAlreadyAllocated):
		return "booking already has funding allocated, amend it instead"
	case IsNotFound(err):
		return "not found"
	case IsClientError(err):
		return err.Error()
	default:
		return "internal error"
	}
}
