/*
service.go - Refund request lifecycle operations

PURPOSE:
  Request files a refund plea inside the cutoff; Approve cancels the
  reservation and settles through MarkRefunded; Reject closes the
  request with a note. MarkRefunded executes the provider refund and
  marks the request REFUNDED, so a request parked in APPROVED by a
  provider outage settles the money when it is retried.
*/
package refund

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/booking-engine/audit"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/notify"
)

// Service drives refund requests through their lifecycle.
type Service struct {
	Store        Store
	Reservations *booking.Service
	Payments     booking.PaymentProbe
	Refunder     PaymentRefunder
	Directory    booking.CustomerDirectory
	Notifier     notify.Sender
	Audit        audit.Sink
	Window       Window

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
// REQUEST
// =============================================================================

// Request files a refund request for a reservation inside the cutoff.
// Rejected when free cancellation is still possible (the customer
// should just cancel), when the reservation already started, when it
// is not CONFIRMED with a succeeded payment, or when a PENDING request
// already exists. attachment is an optional reference to an uploaded
// justification file; only the reference is stored here.
func (s *Service) Request(ctx context.Context, reservationID booking.ReservationID, customerID booking.CustomerID, reason, attachment string) (*Request, error) {
	r, err := s.Reservations.Store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r == nil || r.CustomerID != customerID {
		return nil, fmt.Errorf("%w: reservation %s", booking.ErrNotFound, reservationID)
	}
	if r.Status != booking.StatusConfirmed {
		return nil, fmt.Errorf("%w: reservation %s is %s, refunds apply to CONFIRMED reservations",
			booking.ErrInvalidInput, reservationID, r.Status)
	}

	now := s.now()
	if now.After(r.Start) {
		return nil, fmt.Errorf("%w: reservation %s already started", booking.ErrInvalidInput, reservationID)
	}
	if s.Window.FreeCancellationAllowed(now, r.Start) {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, booking.ErrRefundWindowOpen)
	}

	paid, err := s.Payments.HasSucceededPayment(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !paid {
		return nil, fmt.Errorf("%w: reservation %s has no succeeded payment", booking.ErrInvalidInput, reservationID)
	}

	req := Request{
		ID:            uuid.NewString(),
		ReservationID: reservationID,
		CustomerID:    customerID,
		Reason:        reason,
		Attachment:    attachment,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	audit.Record(s.Audit, string(customerID), "REFUND_REQUESTED", "RefundRequest", req.ID, map[string]string{
		"reservation": string(reservationID),
		"reason":      reason,
	})
	log.Printf("[Refund] request %s filed for reservation %s", req.ID, reservationID)
	return &req, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Approve moves the request PENDING -> APPROVED, cancels the
// reservation, and executes the provider refund. If the refund call
// fails the request stays APPROVED and settlement is retried via
// MarkRefunded once the provider recovers.
func (s *Service) Approve(ctx context.Context, requestID, staff, note string) error {
	req, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: refund request %s", booking.ErrNotFound, requestID)
	}
	if req.Status == StatusApproved || req.Status == StatusRefunded {
		return nil
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: refund request %s is %s", booking.ErrInvalidTransition, requestID, req.Status)
	}

	swapped, err := s.Store.UpdateRequestStatus(ctx, requestID, StatusPending, StatusApproved, staff, note)
	if err != nil {
		return err
	}
	if !swapped {
		log.Printf("[Refund] approve of %s lost the race, leaving state untouched", requestID)
		return nil
	}

	if err := s.Reservations.Cancel(ctx, req.ReservationID, staff, "refund approved"); err != nil {
		return fmt.Errorf("cancelling reservation %s for refund %s: %w", req.ReservationID, requestID, err)
	}

	audit.Record(s.Audit, staff, "REFUND_APPROVED", "RefundRequest", requestID, map[string]string{
		"reservation": string(req.ReservationID),
	})
	s.notifyCustomer(ctx, req, notify.KindRefundApproved)

	if err := s.MarkRefunded(ctx, requestID); err != nil {
		log.Printf("[Refund] settlement of %s failed, request stays APPROVED: %v", requestID, err)
	}
	return nil
}

// Reject closes the request PENDING -> REJECTED with a note for the
// customer. The reservation is untouched.
func (s *Service) Reject(ctx context.Context, requestID, staff, note string) error {
	req, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: refund request %s", booking.ErrNotFound, requestID)
	}
	if req.Status == StatusRejected {
		return nil
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: refund request %s is %s", booking.ErrInvalidTransition, requestID, req.Status)
	}

	swapped, err := s.Store.UpdateRequestStatus(ctx, requestID, StatusPending, StatusRejected, staff, note)
	if err != nil {
		return err
	}
	if !swapped {
		log.Printf("[Refund] reject of %s lost the race, leaving state untouched", requestID)
		return nil
	}

	audit.Record(s.Audit, staff, "REFUND_REJECTED", "RefundRequest", requestID, map[string]string{
		"reservation": string(req.ReservationID),
		"note":        note,
	})
	s.notifyCustomer(ctx, req, notify.KindRefundRejected)
	return nil
}

// MarkRefunded settles an APPROVED request: it executes the provider
// refund and moves the request APPROVED -> REFUNDED. The payment side
// is idempotent, so retrying after a failed settlement is safe.
func (s *Service) MarkRefunded(ctx context.Context, requestID string) error {
	req, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: refund request %s", booking.ErrNotFound, requestID)
	}
	if req.Status == StatusRefunded {
		return nil
	}
	if req.Status != StatusApproved {
		return fmt.Errorf("%w: refund request %s is %s, only APPROVED requests settle",
			booking.ErrInvalidTransition, requestID, req.Status)
	}

	if err := s.Refunder.Refund(ctx, req.ReservationID); err != nil {
		return fmt.Errorf("executing provider refund for request %s: %w", requestID, err)
	}

	swapped, err := s.Store.UpdateRequestStatus(ctx, requestID, StatusApproved, StatusRefunded, req.DecidedBy, req.DecisionNote)
	if err != nil {
		return err
	}
	if !swapped {
		return nil
	}

	audit.Record(s.Audit, "system", "REFUND_SETTLED", "RefundRequest", requestID, map[string]string{
		"reservation": string(req.ReservationID),
	})
	s.notifyCustomer(ctx, req, notify.KindRefundExecuted)
	return nil
}

func (s *Service) notifyCustomer(ctx context.Context, req *Request, kind notify.Kind) {
	if s.Notifier == nil || s.Directory == nil {
		return
	}
	cust, err := s.Directory.CustomerByID(ctx, req.CustomerID)
	if err != nil || cust == nil {
		log.Printf("[Refund] customer %s lookup for notification failed: %v", req.CustomerID, err)
		return
	}
	notify.Dispatch(s.Notifier, kind, notify.Recipient{Name: cust.Name, Email: cust.Email}, map[string]string{
		"reservation": string(req.ReservationID),
		"request":     req.ID,
	})
}
