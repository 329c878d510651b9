/*
provider.go - External payment provider abstraction

PURPOSE:
  The payment service never talks to a provider SDK directly. A Provider
  turns a reservation into a checkout the customer can pay, and answers
  status probes when we need to double-check a delivered outcome.

IMPLEMENTATIONS:
  - payment/omise: production adapter over the Omise API
  - FakeProvider in the tests
*/
package payment

import (
	"context"

	"github.com/warp/booking-engine/booking"
)

// CheckoutRequest carries what the provider needs to open a session.
type CheckoutRequest struct {
	ReservationID booking.ReservationID
	CustomerID    booking.CustomerID
	Amount        booking.Money
	Description   string
}

// Checkout is an open provider session the customer can complete.
type Checkout struct {
	SessionID string
	URL       string
}

// Outcome is the provider-side view of a session, used to verify
// callbacks against the source of truth before acting on them.
type Outcome struct {
	SessionID     string
	TransactionID string
	Paid          bool
	Failed        bool
	Message       string
}

// Provider is the external payment gateway. Errors from CreateCheckout
// and RetrieveOutcome that stem from connectivity should unwrap to
// booking.ErrProviderUnavailable so callers know a retry is possible.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	RetrieveOutcome(ctx context.Context, sessionID string) (*Outcome, error)
	Refund(ctx context.Context, sessionID string, amount booking.Money) error
}
