/*
service.go - Payment lifecycle operations

PURPOSE:
  Open opens a provider checkout for a PENDING reservation;
  HandleSuccess / HandleFailure apply provider outcomes; Refund executes
  an approved refund. Success is the only path that confirms a
  reservation, and the loyalty award rides on it.

DELIVERY SEMANTICS:
  Provider callbacks arrive at least once and may race the sweeper.
  Every handler is idempotent: the payment status CAS decides exactly
  one winner per transition, redeliveries see a terminal payment and
  return nil, and the loyalty award is keyed by payment id so it cannot
  double-credit.
*/
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/booking-engine/audit"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/notify"
)

// Service drives payments through their lifecycle.
type Service struct {
	Store        Store
	Provider     Provider
	Reservations ReservationConfirmer
	Catalog      booking.Catalog
	Directory    booking.CustomerDirectory
	Loyalty      LoyaltyAwarder // optional
	Notifier     notify.Sender
	Audit        audit.Sink

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
// OPEN - Checkout session creation
// =============================================================================

// Open creates a PENDING payment and a provider checkout for the
// reservation. A live (PENDING or SUCCEEDED) payment already attached
// to the reservation is rejected with ErrPaymentExists; a FAILED one is
// superseded by the new attempt.
func (s *Service) Open(ctx context.Context, r booking.Reservation) (*booking.CheckoutSession, error) {
	if s.Provider == nil {
		return nil, fmt.Errorf("no provider configured: %w", booking.ErrProviderUnavailable)
	}
	if r.Status != booking.StatusPending {
		return nil, fmt.Errorf("%w: reservation %s is %s, payment can only be opened while PENDING",
			booking.ErrInvalidInput, r.ID, r.Status)
	}

	existing, err := s.Store.LatestPaymentByReservation(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != StatusFailed {
		if existing.Status == StatusPending && existing.CheckoutURL != "" {
			// Same attempt, hand the open session back.
			return &booking.CheckoutSession{SessionID: existing.SessionID, URL: existing.CheckoutURL}, nil
		}
		return nil, fmt.Errorf("reservation %s: %w", r.ID, booking.ErrPaymentExists)
	}

	checkout, err := s.Provider.CreateCheckout(ctx, CheckoutRequest{
		ReservationID: r.ID,
		CustomerID:    r.CustomerID,
		Amount:        r.Service.Price,
		Description:   r.Service.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("creating checkout for reservation %s: %w", r.ID, err)
	}

	now := s.now()
	p := Payment{
		ID:            booking.PaymentID(uuid.NewString()),
		ReservationID: r.ID,
		Amount:        r.Service.Price,
		Status:        StatusPending,
		Provider:      s.Provider.Name(),
		SessionID:     checkout.SessionID,
		CheckoutURL:   checkout.URL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, booking.ErrPaymentExists) {
			// Concurrent open won; reuse its session.
			winner, lookupErr := s.Store.LatestPaymentByReservation(ctx, r.ID)
			if lookupErr == nil && winner != nil && winner.Status == StatusPending {
				return &booking.CheckoutSession{SessionID: winner.SessionID, URL: winner.CheckoutURL}, nil
			}
		}
		return nil, err
	}

	audit.Record(s.Audit, string(r.CustomerID), "PAYMENT_OPENED", "Payment", string(p.ID), map[string]string{
		"reservation": string(r.ID),
		"amount":      p.Amount.String(),
	})
	log.Printf("[Payment] opened %s session %s for reservation %s", p.ID, p.SessionID, r.ID)
	return &booking.CheckoutSession{SessionID: checkout.SessionID, URL: checkout.URL}, nil
}

// CheckoutURLFor returns the open checkout for a reservation, opening a
// fresh one when the previous attempt failed. Customers land here from
// a "retry payment" link.
func (s *Service) CheckoutURLFor(ctx context.Context, id booking.ReservationID) (*booking.CheckoutSession, error) {
	r, err := s.Reservations.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: reservation %s", booking.ErrNotFound, id)
	}
	return s.Open(ctx, *r)
}

// =============================================================================
// PROVIDER OUTCOMES
// =============================================================================

// HandleSuccess applies a successful provider outcome for a session:
// payment PENDING -> SUCCEEDED, reservation confirm, loyalty award,
// customer notification. Safe under redelivery.
func (s *Service) HandleSuccess(ctx context.Context, sessionID, transactionID string) error {
	p, err := s.Store.PaymentBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: payment session %s", booking.ErrNotFound, sessionID)
	}
	if p.Status == StatusSucceeded {
		return nil // redelivery
	}
	if !CanTransition(p.Status, StatusSucceeded) {
		log.Printf("[Payment] success for %s ignored: status is %s", p.ID, p.Status)
		return nil
	}

	swapped, err := s.Store.UpdatePaymentStatus(ctx, p.ID, StatusPending, StatusSucceeded, transactionID, "")
	if err != nil {
		return err
	}
	if !swapped {
		log.Printf("[Payment] success for %s lost the race, leaving state untouched", p.ID)
		return nil
	}

	// The reservation may have been swept while the callback was in
	// flight; Confirm no-ops in that case and logs the discrepancy.
	if err := s.Reservations.Confirm(ctx, p.ReservationID); err != nil {
		return fmt.Errorf("confirming reservation %s after payment %s: %w", p.ReservationID, p.ID, err)
	}

	audit.Record(s.Audit, "provider", "PAYMENT_SUCCEEDED", "Payment", string(p.ID), map[string]string{
		"reservation": string(p.ReservationID),
		"transaction": transactionID,
	})
	s.awardLoyalty(ctx, *p)
	s.notifyOutcome(ctx, *p, notify.KindPaymentSucceeded)
	return nil
}

// HandleFailure marks the payment FAILED. The reservation stays PENDING
// so the customer can retry; the sweeper reclaims it after the grace
// period.
func (s *Service) HandleFailure(ctx context.Context, sessionID, message string) error {
	p, err := s.Store.PaymentBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: payment session %s", booking.ErrNotFound, sessionID)
	}
	if p.Status == StatusFailed {
		return nil // redelivery
	}
	if !CanTransition(p.Status, StatusFailed) {
		log.Printf("[Payment] failure for %s ignored: status is %s", p.ID, p.Status)
		return nil
	}

	swapped, err := s.Store.UpdatePaymentStatus(ctx, p.ID, StatusPending, StatusFailed, "", message)
	if err != nil {
		return err
	}
	if !swapped {
		log.Printf("[Payment] failure for %s lost the race, leaving state untouched", p.ID)
		return nil
	}

	audit.Record(s.Audit, "provider", "PAYMENT_FAILED", "Payment", string(p.ID), map[string]string{
		"reservation": string(p.ReservationID),
		"message":     message,
	})
	s.notifyOutcome(ctx, *p, notify.KindPaymentFailed)
	return nil
}

// VerifyAndApply re-reads the session from the provider and applies
// whatever outcome it reports. Used by the return-URL handler, where
// the browser redirect carries no trustworthy outcome of its own.
func (s *Service) VerifyAndApply(ctx context.Context, sessionID string) error {
	if s.Provider == nil {
		return fmt.Errorf("no provider configured: %w", booking.ErrProviderUnavailable)
	}
	outcome, err := s.Provider.RetrieveOutcome(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("verifying session %s: %w", sessionID, err)
	}
	switch {
	case outcome.Paid:
		return s.HandleSuccess(ctx, sessionID, outcome.TransactionID)
	case outcome.Failed:
		return s.HandleFailure(ctx, sessionID, outcome.Message)
	default:
		log.Printf("[Payment] session %s still open at provider", sessionID)
		return nil
	}
}

// =============================================================================
// REFUND
// =============================================================================

// Refund executes a refund against the provider and moves the payment
// SUCCEEDED -> REFUNDED. Called by the refund lifecycle once a request
// has been approved; never directly by customers.
func (s *Service) Refund(ctx context.Context, reservationID booking.ReservationID) error {
	p, err := s.Store.LatestPaymentByReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: no payment for reservation %s", booking.ErrNotFound, reservationID)
	}
	if p.Status == StatusRefunded {
		return nil
	}
	if !CanTransition(p.Status, StatusRefunded) {
		return fmt.Errorf("%w: payment %s is %s, only SUCCEEDED payments can be refunded",
			booking.ErrInvalidTransition, p.ID, p.Status)
	}

	if s.Provider == nil {
		return fmt.Errorf("no provider configured: %w", booking.ErrProviderUnavailable)
	}
	if err := s.Provider.Refund(ctx, p.SessionID, p.Amount); err != nil {
		return fmt.Errorf("refunding payment %s: %w", p.ID, err)
	}

	swapped, err := s.Store.UpdatePaymentStatus(ctx, p.ID, StatusSucceeded, StatusRefunded, p.TransactionID, "refunded")
	if err != nil {
		return err
	}
	if !swapped {
		return nil // concurrent refund already landed
	}

	audit.Record(s.Audit, "system", "PAYMENT_REFUNDED", "Payment", string(p.ID), map[string]string{
		"reservation": string(p.ReservationID),
		"amount":      p.Amount.String(),
	})
	s.notifyOutcome(ctx, *p, notify.KindRefundExecuted)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) awardLoyalty(ctx context.Context, p Payment) {
	if s.Loyalty == nil || s.Catalog == nil {
		return
	}
	r, err := s.Reservations.GetReservation(ctx, p.ReservationID)
	if err != nil || r == nil {
		log.Printf("[Payment] reservation %s lookup for loyalty award failed: %v", p.ReservationID, err)
		return
	}
	item, err := s.Catalog.GetServiceItem(ctx, r.ServiceID)
	if err != nil || item == nil || item.LoyaltyPoints <= 0 {
		return
	}
	// Keyed by payment id so a redelivered callback that somehow reaches
	// this point cannot credit twice.
	if err := s.Loyalty.Award(ctx, r.CustomerID, item.LoyaltyPoints, string(p.ID)); err != nil {
		log.Printf("[Payment] loyalty award for customer %s failed: %v", r.CustomerID, err)
	}
}

func (s *Service) notifyOutcome(ctx context.Context, p Payment, kind notify.Kind) {
	if s.Notifier == nil || s.Directory == nil {
		return
	}
	r, err := s.Reservations.GetReservation(ctx, p.ReservationID)
	if err != nil || r == nil {
		return
	}
	cust, err := s.Directory.CustomerByID(ctx, r.CustomerID)
	if err != nil || cust == nil {
		log.Printf("[Payment] customer %s lookup for notification failed: %v", r.CustomerID, err)
		return
	}
	notify.Dispatch(s.Notifier, kind, notify.Recipient{Name: cust.Name, Email: cust.Email}, map[string]string{
		"reservation": string(p.ReservationID),
		"amount":      p.Amount.String(),
	})
}

// Probe adapts the store to the booking sweeper's payment probe.
type Probe struct {
	Store Store
}

func (pr Probe) HasSucceededPayment(ctx context.Context, id booking.ReservationID) (bool, error) {
	p, err := pr.Store.LatestPaymentByReservation(ctx, id)
	if err != nil {
		return false, err
	}
	return p != nil && (p.Status == StatusSucceeded || p.Status == StatusRefunded), nil
}

func (pr Probe) HasFailedPayment(ctx context.Context, id booking.ReservationID) (bool, error) {
	p, err := pr.Store.LatestPaymentByReservation(ctx, id)
	if err != nil {
		return false, err
	}
	return p != nil && p.Status == StatusFailed, nil
}
