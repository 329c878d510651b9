/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request bodies carry go-playground/validator struct tags; handlers run
  the shared validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/payment"
	"github.com/warp/booking-engine/refund"
	"github.com/warp/booking-engine/schedule"
)

// =============================================================================
// SERVICES
// =============================================================================

type ServiceDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DurationMin   int    `json:"duration_min"`
	PriceCents    int64  `json:"price_cents"`
	Currency      string `json:"currency"`
	LoyaltyPoints int    `json:"loyalty_points"`
	Active        bool   `json:"active"`
}

type SaveServiceRequest struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	DurationMin   int    `json:"duration_min" validate:"required,gt=0"`
	PriceCents    int64  `json:"price_cents" validate:"gte=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
	LoyaltyPoints int    `json:"loyalty_points" validate:"gte=0"`
	Active        bool   `json:"active"`
}

func toServiceDTO(item booking.ServiceItem) ServiceDTO {
	return ServiceDTO{
		ID:            string(item.ID),
		Name:          item.Name,
		DurationMin:   int(item.Duration / time.Minute),
		PriceCents:    item.Price.Cents(),
		Currency:      item.Price.Currency,
		LoyaltyPoints: item.LoyaltyPoints,
		Active:        item.Active,
	}
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type SaveCustomerRequest struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationDTO struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer_id"`
	ServiceID    string `json:"service_id"`
	ServiceName  string `json:"service_name"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type CreateReservationRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	ServiceID  string `json:"service_id" validate:"required"`
	Start      string `json:"start" validate:"required"` // RFC3339
}

// CreateReservationResponse carries the new reservation plus the
// provider checkout the customer completes the payment on. CheckoutURL
// is empty when the provider was unreachable; the reservation still
// exists and payment can be retried.
type CreateReservationResponse struct {
	Reservation ReservationDTO `json:"reservation"`
	CheckoutURL string         `json:"checkout_url,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Warning     string         `json:"warning,omitempty"`
}

type CancelReservationRequest struct {
	CustomerID string `json:"customer_id"`
	Actor      string `json:"actor"`
	Reason     string `json:"reason"`
}

func toReservationDTO(r booking.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:           string(r.ID),
		CustomerID:   string(r.CustomerID),
		ServiceID:    string(r.ServiceID),
		ServiceName:  r.Service.Name,
		Start:        r.Start.UTC().Format(time.RFC3339),
		End:          r.End().UTC().Format(time.RFC3339),
		Status:       string(r.Status),
		CancelReason: r.CancelReason,
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// AVAILABILITY
// =============================================================================

type AvailabilityDTO struct {
	Available bool   `json:"available"`
	Conflict  string `json:"conflict,omitempty"`
}

// =============================================================================
// SCHEDULE
// =============================================================================

type WorkingHoursDTO struct {
	Weekday int    `json:"weekday"` // 0 = Sunday
	Open    string `json:"open"`    // "09:00"
	Close   string `json:"close"`   // "18:00"
	Closed  bool   `json:"closed"`
}

type SaveWorkingHoursRequest struct {
	Weekday int    `json:"weekday" validate:"gte=0,lte=6"`
	Open    string `json:"open"`
	Close   string `json:"close"`
	Closed  bool   `json:"closed"`
}

type BlockedIntervalDTO struct {
	ID     string `json:"id"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason,omitempty"`
}

type AddBlockRequest struct {
	Start     string `json:"start" validate:"required"`
	End       string `json:"end" validate:"required"`
	Reason    string `json:"reason"`
	CreatedBy string `json:"created_by"`
}

func toWorkingHoursDTO(wh schedule.WorkingHours) WorkingHoursDTO {
	return WorkingHoursDTO{
		Weekday: int(wh.Weekday),
		Open:    wh.Open.String(),
		Close:   wh.Close.String(),
		Closed:  wh.Closed,
	}
}

func toBlockedIntervalDTO(b schedule.BlockedInterval) BlockedIntervalDTO {
	return BlockedIntervalDTO{
		ID:     b.ID,
		Start:  b.Start.UTC().Format(time.RFC3339),
		End:    b.End.UTC().Format(time.RFC3339),
		Reason: b.Reason,
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID            string `json:"id"`
	ReservationID string `json:"reservation_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	Message       string `json:"message,omitempty"`
}

// PaymentEventRequest is the webhook body the provider (or an internal
// relay) posts. The signature header authenticates it.
type PaymentEventRequest struct {
	SessionID     string `json:"session_id" validate:"required"`
	Status        string `json:"status" validate:"required,oneof=succeeded failed"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

func toPaymentDTO(p payment.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            string(p.ID),
		ReservationID: string(p.ReservationID),
		AmountCents:   p.Amount.Cents(),
		Currency:      p.Amount.Currency,
		Status:        string(p.Status),
		CheckoutURL:   p.CheckoutURL,
		Message:       p.Message,
	}
}

// =============================================================================
// REFUNDS
// =============================================================================

type RefundRequestDTO struct {
	ID            string `json:"id"`
	ReservationID string `json:"reservation_id"`
	CustomerID    string `json:"customer_id"`
	Reason        string `json:"reason,omitempty"`
	Attachment    string `json:"attachment,omitempty"`
	Status        string `json:"status"`
	DecidedBy     string `json:"decided_by,omitempty"`
	DecisionNote  string `json:"decision_note,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type CreateRefundRequest struct {
	ReservationID string `json:"reservation_id" validate:"required"`
	CustomerID    string `json:"customer_id" validate:"required"`
	Reason        string `json:"reason"`
	Attachment    string `json:"attachment"`
}

type RefundDecisionRequest struct {
	Staff string `json:"staff" validate:"required"`
	Note  string `json:"note"`
}

func toRefundRequestDTO(r refund.Request) RefundRequestDTO {
	return RefundRequestDTO{
		ID:            r.ID,
		ReservationID: string(r.ReservationID),
		CustomerID:    string(r.CustomerID),
		Reason:        r.Reason,
		Attachment:    r.Attachment,
		Status:        string(r.Status),
		DecidedBy:     r.DecidedBy,
		DecisionNote:  r.DecisionNote,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
