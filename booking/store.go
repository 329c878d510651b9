/*
store.go - Persistence interfaces for the booking engine

PURPOSE:
  Defines the contract between the lifecycle service and the database.
  Implementations: store/sqlite (production) and store/memory (tests).

CONCURRENCY CONTRACT:
  - WithTx serializes its function body against other WithTx calls and
    writes. Combined with CreateReservation's overlap re-count this is
    what keeps two concurrent creates from double-booking a slot.
  - UpdateReservationStatus is a compare-and-swap on the current status.
    A false return means somebody else transitioned the row first; the
    caller's move becomes a logged no-op. This is what makes the payment
    callback and the sweeper mutually exclusive per reservation.
*/
package booking

import (
	"context"
	"time"
)

// =============================================================================
// RESERVATION STORE
// =============================================================================

type Store interface {
	// CreateReservation inserts a new PENDING reservation. The
	// implementation counts overlapping non-cancelled rows immediately
	// before insert and returns an error unwrapping to ErrSlotConflict if
	// the no-overlap invariant would break. Callers run it inside WithTx.
	CreateReservation(ctx context.Context, r Reservation) error

	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)

	// ListOverlapping returns non-cancelled reservations whose slot
	// intersects [from, to) (half-open semantics).
	ListOverlapping(ctx context.Context, from, to time.Time) ([]Reservation, error)

	// UpdateReservationStatus CAS-transitions id from `from` to `to`,
	// recording the reason and bumping the version. Returns false when the
	// row was not in `from` anymore.
	UpdateReservationStatus(ctx context.Context, id ReservationID, from, to ReservationStatus, reason string) (bool, error)

	// ListPendingCreatedBefore returns PENDING reservations created
	// strictly before the cutoff. Used by the sweeper.
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]Reservation, error)

	ListReservationsByCustomer(ctx context.Context, id CustomerID) ([]Reservation, error)
	ListReservationsByStatus(ctx context.Context, status ReservationStatus) ([]Reservation, error)
	ListReservationsBetween(ctx context.Context, from, to time.Time) ([]Reservation, error)

	// WithTx executes fn atomically with respect to other WithTx calls.
	// If fn returns an error the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SERVICE CATALOG
// =============================================================================

// Catalog looks up and manages the bookable services.
type Catalog interface {
	GetServiceItem(ctx context.Context, id ServiceID) (*ServiceItem, error)
	ListServiceItems(ctx context.Context, activeOnly bool) ([]ServiceItem, error)
	SaveServiceItem(ctx context.Context, item ServiceItem) error
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// CustomerDirectory is the read-only identity lookup. The engine never
// mutates customer records.
type CustomerDirectory interface {
	CustomerByID(ctx context.Context, id CustomerID) (*Customer, error)
}

// PaymentProbe answers the sweeper's two questions about a reservation's
// payment state without the booking package depending on the payment
// package.
type PaymentProbe interface {
	// HasSucceededPayment reports whether any payment for the reservation
	// is SUCCEEDED.
	HasSucceededPayment(ctx context.Context, id ReservationID) (bool, error)

	// HasFailedPayment reports whether the reservation's latest payment
	// is FAILED.
	HasFailedPayment(ctx context.Context, id ReservationID) (bool, error)
}

// CheckoutSession is what opening a payment yields: the provider-hosted
// URL the customer completes the payment on.
type CheckoutSession struct {
	SessionID string
	URL       string
}

// PaymentOpener opens a payment for a freshly created reservation. The
// payment package implements this; the indirection keeps the dependency
// pointing payment -> booking only.
type PaymentOpener interface {
	Open(ctx context.Context, r Reservation) (*CheckoutSession, error)
}
