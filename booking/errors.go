/*
errors.go - Centralized error types for the booking engine

PURPOSE:
  One place for the whole error taxonomy. Other packages wrap these
  with domain context.

ERROR CATEGORIES:
  1. Validation errors  - malformed input, rejected synchronously
  2. Conflict errors    - availability failures, caller picks a new time
  3. State errors       - operation from an incompatible state; races
                          against the sweeper/callbacks are expected, so
                          these are usually logged no-ops
  4. Provider errors    - payment provider unreachable, retryable
  5. Integrity errors   - the storage-level no-overlap backstop fired

USAGE:
  if errors.Is(err, booking.ErrSlotConflict) { ... }

  var te *booking.TransitionError
  if errors.As(err, &te) { ... }
*/
package booking

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed or past start times and
	// non-positive durations. Never retried automatically.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSlotConflict is returned when the candidate interval overlaps an
	// existing non-cancelled reservation.
	ErrSlotConflict = errors.New("slot already taken")

	// ErrOutsideHours is returned when the interval does not fit inside
	// the weekday's open window.
	ErrOutsideHours = errors.New("outside working hours")

	// ErrBlocked is returned when the interval intersects a blocked period.
	ErrBlocked = errors.New("interval is blocked")

	// ErrInvalidTransition is returned when a state machine rejects a move.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrProviderUnavailable wraps payment provider communication failures.
	// Retryable: no durable state was created.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPaymentExists is returned when opening a payment for a reservation
	// that already has a non-failed payment.
	ErrPaymentExists = errors.New("a non-failed payment already exists for this reservation")

	// ErrRefundWindowOpen means the free-cancellation window still applies;
	// the customer should cancel directly instead of requesting a refund.
	ErrRefundWindowOpen = errors.New("free cancellation still available")

	// ErrRefundWindowClosed means self-service cancellation is refused;
	// the customer may submit a refund request instead.
	ErrRefundWindowClosed = errors.New("inside refund cutoff window")

	// ErrDuplicateRefundRequest means a pending refund request already
	// exists for the reservation.
	ErrDuplicateRefundRequest = errors.New("a pending refund request already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError reports why an interval is unavailable, with the
// discriminated reason the client needs for messaging.
type ConflictError struct {
	Reason   ConflictReason
	Interval Interval
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: [%s, %s)", e.Reason,
		e.Interval.Start.Format(time.RFC3339), e.Interval.End.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error {
	switch e.Reason {
	case ConflictOutsideHours:
		return ErrOutsideHours
	case ConflictBlocked:
		return ErrBlocked
	default:
		return ErrSlotConflict
	}
}

// TransitionError reports an operation attempted from an incompatible
// reservation state.
type TransitionError struct {
	ReservationID ReservationID
	From          ReservationStatus
	Event         Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("reservation %s: cannot apply %s in state %s", e.ReservationID, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsClientError returns true if the error is due to invalid client input
// or a conflict the client can resolve by picking a different time.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRefundWindowOpen) ||
		errors.Is(err, ErrRefundWindowClosed) ||
		errors.Is(err, ErrDuplicateRefundRequest) ||
		errors.Is(err, ErrPaymentExists) ||
		IsConflict(err)
}

// IsConflict returns true for any availability failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotConflict) ||
		errors.Is(err, ErrOutsideHours) ||
		errors.Is(err, ErrBlocked)
}
