/*
Package omise adapts the Omise payment gateway to the payment.Provider
interface.

FLOW:
  CreateCheckout creates a promptpay source and a charge against it; the
  charge's authorize URI is the checkout URL the customer is redirected
  to, and the charge id doubles as our session id. RetrieveOutcome
  re-reads the charge, which is the source of truth a webhook or
  return-URL hit is verified against.

AMOUNTS:
  Omise wants the smallest currency unit (satang, cents); Money.Cents
  does that conversion.
*/
package omise

import (
	"context"
	"fmt"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/payment"
)

// Gateway implements payment.Provider over the Omise API.
type Gateway struct {
	client    *omise.Client
	returnURI string
}

// New builds a gateway from the public/secret key pair. returnURI is
// where Omise redirects the customer after the authorize step.
func New(publicKey, secretKey, returnURI string) (*Gateway, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	return &Gateway{client: client, returnURI: returnURI}, nil
}

func (g *Gateway) Name() string { return "OMISE" }

func (g *Gateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	source := &omise.Source{}
	if err := g.client.Do(source, &operations.CreateSource{
		Type:     "promptpay",
		Amount:   req.Amount.Cents(),
		Currency: req.Amount.Currency,
	}); err != nil {
		return nil, fmt.Errorf("creating source: %w: %v", booking.ErrProviderUnavailable, err)
	}

	charge := &omise.Charge{}
	if err := g.client.Do(charge, &operations.CreateCharge{
		Amount:    req.Amount.Cents(),
		Currency:  req.Amount.Currency,
		Source:    source.ID,
		ReturnURI: g.returnURI,
		Metadata: map[string]interface{}{
			"reservation_id": string(req.ReservationID),
			"customer_id":    string(req.CustomerID),
		},
	}); err != nil {
		return nil, fmt.Errorf("creating charge: %w: %v", booking.ErrProviderUnavailable, err)
	}

	return &payment.Checkout{SessionID: charge.ID, URL: charge.AuthorizeURI}, nil
}

func (g *Gateway) RetrieveOutcome(ctx context.Context, sessionID string) (*payment.Outcome, error) {
	charge := &omise.Charge{}
	if err := g.client.Do(charge, &operations.RetrieveCharge{ChargeID: sessionID}); err != nil {
		return nil, fmt.Errorf("retrieving charge %s: %w: %v", sessionID, booking.ErrProviderUnavailable, err)
	}

	out := &payment.Outcome{SessionID: charge.ID, TransactionID: charge.Transaction}
	switch string(charge.Status) {
	case "successful":
		out.Paid = true
	case "failed", "expired", "reversed":
		out.Failed = true
		if charge.FailureCode != nil {
			out.Message = *charge.FailureCode
		}
		if charge.FailureMessage != nil && out.Message == "" {
			out.Message = *charge.FailureMessage
		}
	}
	return out, nil
}

func (g *Gateway) Refund(ctx context.Context, sessionID string, amount booking.Money) error {
	refund := &omise.Refund{}
	if err := g.client.Do(refund, &operations.CreateRefund{
		ChargeID: sessionID,
		Amount:   amount.Cents(),
	}); err != nil {
		return fmt.Errorf("refunding charge %s: %w: %v", sessionID, booking.ErrProviderUnavailable, err)
	}
	return nil
}

// ReservationIDFromCharge pulls our reservation reference out of the
// charge metadata stamped at checkout time.
func ReservationIDFromCharge(charge *omise.Charge) (booking.ReservationID, bool) {
	raw, ok := charge.Metadata["reservation_id"].(string)
	if !ok || raw == "" {
		return "", false
	}
	return booking.ReservationID(raw), true
}

// VerifyEvent re-reads a webhook event from the API so a forged request
// body cannot drive a state change.
func (g *Gateway) VerifyEvent(ctx context.Context, eventID string) (*omise.Event, error) {
	ev := &omise.Event{}
	if err := g.client.Do(ev, &operations.RetrieveEvent{EventID: eventID}); err != nil {
		return nil, fmt.Errorf("retrieving event %s: %w: %v", eventID, booking.ErrProviderUnavailable, err)
	}
	return ev, nil
}
