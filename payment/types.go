/*
Package payment owns the payment state machine and the provider-driven
lifecycle that gates reservation confirmation.

PURPOSE:
  A reservation is only CONFIRMED when its payment SUCCEEDED. The
  provider delivers outcomes asynchronously, at least once, possibly
  out of order with the sweeper; every handler here is idempotent and
  every reservation-side effect goes through the booking lifecycle's
  CAS transitions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Payment: one-to-one with a reservation while non-terminal
  - Status machine: PENDING -> SUCCEEDED | FAILED | REFUNDED; a new
    payment may be opened after FAILED

INVARIANTS:
  - At most one non-failed payment per reservation (store-enforced)
  - SUCCEEDED implies the reservation is CONFIRMED or later
  - REFUNDED implies the reservation is CANCELLED
*/
package payment

import (
	"context"
	"time"

	"github.com/warp/booking-engine/booking"
)

// =============================================================================
// PAYMENT - Provider-gated record
// =============================================================================

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

// Terminal reports whether this payment instance can still move.
// Everything but PENDING is terminal; retrying after FAILED means
// opening a new payment.
func (s Status) Terminal() bool { return s != StatusPending }

// legal moves for a single payment instance
var transitions = map[Status][]Status{
	StatusPending:   {StatusSucceeded, StatusFailed},
	StatusSucceeded: {StatusRefunded},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Payment records one checkout attempt against the external provider.
type Payment struct {
	ID            booking.PaymentID
	ReservationID booking.ReservationID
	Amount        booking.Money
	Status        Status

	Provider      string // e.g. "OMISE"
	SessionID     string // provider checkout session reference
	TransactionID string // provider payment/charge id, stamped on success
	CheckoutURL   string
	Message       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// STORE - Persistence interface
// =============================================================================

type Store interface {
	// CreatePayment inserts a PENDING payment. Returns
	// booking.ErrPaymentExists when a non-failed payment already exists
	// for the reservation (store-level partial unique index).
	CreatePayment(ctx context.Context, p Payment) error

	GetPayment(ctx context.Context, id booking.PaymentID) (*Payment, error)

	// PaymentBySession looks a payment up by provider session reference.
	PaymentBySession(ctx context.Context, sessionID string) (*Payment, error)

	// LatestPaymentByReservation returns the most recently created payment
	// for the reservation, or nil.
	LatestPaymentByReservation(ctx context.Context, id booking.ReservationID) (*Payment, error)

	// UpdatePaymentStatus CAS-transitions the payment from `from` to `to`,
	// stamping the provider transaction id and message. Returns false when
	// the payment was not in `from`.
	UpdatePaymentStatus(ctx context.Context, id booking.PaymentID, from, to Status, transactionID, message string) (bool, error)

	ListPaymentsByStatus(ctx context.Context, status Status) ([]Payment, error)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// LoyaltyAwarder credits points after a successful payment. Award must
// be idempotent by reference: redelivered callbacks never double-award.
type LoyaltyAwarder interface {
	Award(ctx context.Context, customerID booking.CustomerID, points int, reference string) error
}

// ReservationConfirmer is the slice of the booking lifecycle the
// payment side needs.
type ReservationConfirmer interface {
	Confirm(ctx context.Context, id booking.ReservationID) error
	GetReservation(ctx context.Context, id booking.ReservationID) (*booking.Reservation, error)
}

func (s Status) String() string { return string(s) }
