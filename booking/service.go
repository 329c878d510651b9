/*
service.go - Reservation lifecycle operations

PURPOSE:
  Owns every reservation mutation. Other components (payment callbacks,
  the sweeper, refund approval) go through these operations; nothing
  writes reservation status directly.

THE CORE CORRECTNESS PROPERTY:
  Create checks working hours and blocked intervals up front (rules are
  read-mostly, a snapshot read is fine), then runs the slot-overlap
  check and the insert as one atomic unit (Store.WithTx, where
  CreateReservation re-counts overlaps immediately before inserting).
  Two concurrent creates for overlapping slots therefore cannot both
  insert; the loser gets a SLOT_CONFLICT, and the whole flow is retried
  once before the conflict surfaces.

RACES THAT ARE EXPECTED, NOT BUGS:
  - Payment success callback vs sweeper timeout: both CAS on status;
    whichever lands first wins, the loser logs a warning and no-ops.
  - Duplicate cancellation: cancelling an already-cancelled reservation
    is a no-op success.
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/booking-engine/audit"
	"github.com/warp/booking-engine/notify"
)

// CancellationPolicy decides whether a self-service cancellation is
// still free. The refund package's Window implements it.
type CancellationPolicy interface {
	FreeCancellationAllowed(now, start time.Time) bool
}

// Service owns the reservation state machine.
type Service struct {
	Store     Store
	Catalog   Catalog
	Rules     *Checker
	Payments  PaymentOpener     // optional; nil in some tests
	Directory CustomerDirectory // optional; recipients for notifications
	Notifier  notify.Sender
	Audit     audit.Sink
	Policy    CancellationPolicy

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// =============================================================================
// CREATE
// =============================================================================

// Create books [start, start+service.Duration) for the customer. On
// success the reservation is PENDING and a checkout session has been
// opened with the payment provider.
//
// If the provider is unreachable the reservation still exists (PENDING,
// reclaimed by the sweeper if never paid) and the error unwraps to
// ErrProviderUnavailable so the caller knows a payment retry is possible.
func (s *Service) Create(ctx context.Context, customerID CustomerID, serviceID ServiceID, start time.Time) (*Reservation, *CheckoutSession, error) {
	item, err := s.Catalog.GetServiceItem(ctx, serviceID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil || !item.Active {
		return nil, nil, fmt.Errorf("%w: service %s", ErrNotFound, serviceID)
	}
	if item.Duration <= 0 {
		return nil, nil, fmt.Errorf("%w: service %s has non-positive duration", ErrInvalidInput, serviceID)
	}
	if !start.After(s.now()) {
		return nil, nil, fmt.Errorf("%w: start must be in the future", ErrInvalidInput)
	}

	var created *Reservation

	// The storage backstop can fire when a concurrent insert lands between
	// our check and ours; one automatic retry, then the conflict surfaces.
	for attempt := 0; ; attempt++ {
		created, err = s.tryCreate(ctx, customerID, *item, start)
		if err == nil {
			break
		}
		if attempt == 0 && errors.Is(err, ErrSlotConflict) {
			log.Printf("[Booking] create for %s lost insert race, retrying once", customerID)
			continue
		}
		return nil, nil, err
	}

	audit.Record(s.Audit, string(customerID), "RESERVATION_CREATED", "Reservation", string(created.ID), map[string]string{
		"service": string(created.ServiceID),
		"start":   created.Start.Format(time.RFC3339),
	})

	if s.Payments == nil {
		return created, nil, nil
	}

	session, err := s.Payments.Open(ctx, *created)
	if err != nil {
		// Reservation stays PENDING; the customer can retry payment and
		// the sweeper reclaims the slot if nothing ever arrives.
		return created, nil, fmt.Errorf("opening payment for reservation %s: %w", created.ID, err)
	}
	return created, session, nil
}

func (s *Service) tryCreate(ctx context.Context, customerID CustomerID, item ServiceItem, start time.Time) (*Reservation, error) {
	avail, err := s.Rules.IsAvailable(ctx, start, item.Duration)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, &ConflictError{
			Reason:   avail.Conflict,
			Interval: Interval{Start: start, End: start.Add(item.Duration)},
		}
	}

	now := s.now()
	created := Reservation{
		ID:         ReservationID(uuid.NewString()),
		CustomerID: customerID,
		ServiceID:  item.ID,
		Service:    item,
		Start:      start,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// The transactional overlap re-count inside CreateReservation is the
	// authoritative slot check; the IsAvailable pass above only decides
	// WHICH conflict to report.
	err = s.Store.WithTx(ctx, func(tx Store) error {
		return tx.CreateReservation(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// =============================================================================
// CONFIRM
// =============================================================================

// Confirm moves PENDING -> CONFIRMED. Only the payment lifecycle calls
// this, on payment success. If the reservation is not PENDING anymore
// (the sweeper got there first) the call is a logged no-op: the payment
// side decides what to do with the money.
func (s *Service) Confirm(ctx context.Context, id ReservationID) error {
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	if r.Status == StatusConfirmed {
		return nil // redelivered callback
	}
	if !CanTransition(r.Status, EventPaymentSucceeded) {
		log.Printf("[Booking] confirm of reservation %s ignored: status is %s", id, r.Status)
		return nil
	}

	swapped, err := s.Store.UpdateReservationStatus(ctx, id, StatusPending, StatusConfirmed, "")
	if err != nil {
		return err
	}
	if !swapped {
		log.Printf("[Booking] confirm of reservation %s lost the race, leaving state untouched", id)
		return nil
	}

	audit.Record(s.Audit, "system", "RESERVATION_CONFIRMED", "Reservation", string(id), nil)
	s.notifyCustomer(ctx, r, notify.KindBookingConfirmed, map[string]string{
		"start": r.Start.Format(time.RFC3339),
	})
	return nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel moves PENDING or CONFIRMED to CANCELLED, releasing the slot.
// Idempotent: an already-cancelled reservation is a no-op success.
func (s *Service) Cancel(ctx context.Context, id ReservationID, actor, reason string) error {
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	if r.Status == StatusCancelled {
		return nil
	}
	if _, err := Transition(id, r.Status, EventCancelled); err != nil {
		return err
	}

	swapped, err := s.Store.UpdateReservationStatus(ctx, id, r.Status, StatusCancelled, reason)
	if err != nil {
		return err
	}
	if !swapped {
		// Somebody transitioned concurrently. Re-read: if it ended up
		// cancelled anyway, idempotence says we are done.
		cur, err := s.Store.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if cur != nil && cur.Status == StatusCancelled {
			return nil
		}
		return &TransitionError{ReservationID: id, From: cur.Status, Event: EventCancelled}
	}

	audit.Record(s.Audit, actor, "RESERVATION_CANCELLED", "Reservation", string(id), map[string]string{"reason": reason})
	s.notifyCustomer(ctx, r, notify.KindBookingCancelled, map[string]string{
		"start":  r.Start.Format(time.RFC3339),
		"reason": reason,
	})
	return nil
}

// CancelByCustomer is the self-service path. It is only allowed while
// the free-cancellation window is open; inside the cutoff the customer
// must go through a refund request instead.
func (s *Service) CancelByCustomer(ctx context.Context, id ReservationID, customerID CustomerID, reason string) error {
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if r == nil || r.CustomerID != customerID {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	if s.Policy != nil && !s.Policy.FreeCancellationAllowed(s.now(), r.Start) {
		return fmt.Errorf("reservation %s: %w", id, ErrRefundWindowClosed)
	}
	return s.Cancel(ctx, id, string(customerID), reason)
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete marks a delivered service: CONFIRMED -> COMPLETED, staff
// action, only valid once the start time has passed.
func (s *Service) Complete(ctx context.Context, id ReservationID, actor string) error {
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	if _, err := Transition(id, r.Status, EventCompleted); err != nil {
		return err
	}
	if s.now().Before(r.Start) {
		return fmt.Errorf("%w: reservation %s has not started yet", ErrInvalidInput, id)
	}

	swapped, err := s.Store.UpdateReservationStatus(ctx, id, StatusConfirmed, StatusCompleted, "")
	if err != nil {
		return err
	}
	if !swapped {
		cur, _ := s.Store.GetReservation(ctx, id)
		status := StatusCancelled
		if cur != nil {
			status = cur.Status
		}
		return &TransitionError{ReservationID: id, From: status, Event: EventCompleted}
	}

	audit.Record(s.Audit, actor, "RESERVATION_COMPLETED", "Reservation", string(id), nil)
	return nil
}

// GetReservation exposes the store lookup so callers outside the
// package depend on the service, not on the store directly.
func (s *Service) GetReservation(ctx context.Context, id ReservationID) (*Reservation, error) {
	return s.Store.GetReservation(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) notifyCustomer(ctx context.Context, r *Reservation, kind notify.Kind, data map[string]string) {
	if s.Notifier == nil || s.Directory == nil {
		return
	}
	cust, err := s.Directory.CustomerByID(ctx, r.CustomerID)
	if err != nil || cust == nil {
		log.Printf("[Booking] customer %s lookup for notification failed: %v", r.CustomerID, err)
		return
	}
	notify.Dispatch(s.Notifier, kind, notify.Recipient{Name: cust.Name, Email: cust.Email}, data)
}
