/*
Package refund implements the cancellation cutoff and the refund
request lifecycle for paid reservations inside that cutoff.

PURPOSE:
  Outside the cutoff (default 24h before start) customers cancel for
  free and no refund request exists. Inside the cutoff the money is
  committed: the customer files a RefundRequest, staff approve or
  reject it, and an approved request cancels the reservation and is
  later marked refunded once the provider refund clears.

STATE MACHINE:
  PENDING -> APPROVED -> REFUNDED
  PENDING -> REJECTED

INVARIANTS:
  - At most one PENDING request per reservation (store-enforced)
  - Only CONFIRMED reservations with a succeeded payment are eligible
  - Approval cancels the reservation before the request settles
*/
package refund

import (
	"context"
	"time"

	"github.com/warp/booking-engine/booking"
)

// =============================================================================
// CANCELLATION WINDOW
// =============================================================================

// Window is the free-cancellation policy: cancellation is free while
// more than Cutoff remains before the reservation starts. Implements
// booking.CancellationPolicy.
type Window struct {
	Cutoff time.Duration
}

// DefaultWindow is the 24 hour policy.
func DefaultWindow() Window { return Window{Cutoff: 24 * time.Hour} }

// FreeCancellationAllowed reports whether now is still outside the
// cutoff. The boundary itself counts as inside: exactly Cutoff before
// start is no longer free.
func (w Window) FreeCancellationAllowed(now, start time.Time) bool {
	return start.Sub(now) > w.Cutoff
}

// =============================================================================
// REFUND REQUEST
// =============================================================================

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusRefunded Status = "REFUNDED"
)

func (s Status) Terminal() bool { return s == StatusRejected || s == StatusRefunded }

// Request is a customer's plea for money back inside the cutoff.
type Request struct {
	ID            string
	ReservationID booking.ReservationID
	CustomerID    booking.CustomerID
	Reason        string
	Attachment    string // reference to an uploaded justification file, optional
	Status        Status

	DecidedBy    string // staff member, set on approve/reject
	DecisionNote string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// CreateRequest inserts a PENDING request. Returns
	// booking.ErrDuplicateRefundRequest when a PENDING request already
	// exists for the reservation.
	CreateRequest(ctx context.Context, r Request) error

	GetRequest(ctx context.Context, id string) (*Request, error)

	// PendingRequestByReservation returns the open request for a
	// reservation, or nil.
	PendingRequestByReservation(ctx context.Context, id booking.ReservationID) (*Request, error)

	// UpdateRequestStatus CAS-transitions the request, stamping the
	// decision fields. Returns false when the request was not in `from`.
	UpdateRequestStatus(ctx context.Context, id string, from, to Status, decidedBy, note string) (bool, error)

	ListRequestsByStatus(ctx context.Context, status Status) ([]Request, error)
}

// PaymentRefunder executes the provider refund for a reservation's
// payment. The payment service implements it.
type PaymentRefunder interface {
	Refund(ctx context.Context, reservationID booking.ReservationID) error
}
