/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes the reservation, payment, and refund lifecycles via REST.
  Handles HTTP request/response, JSON serialization, and delegates to
  the domain services.

ENDPOINTS:
  Services:
    GET    /api/services                      List bookable services
    POST   /api/services                      Create/update a service

  Customers:
    POST   /api/customers                     Create/update a customer
    GET    /api/customers/{id}/reservations   Reservation history

  Availability:
    GET    /api/availability?service_id=&start=   Check a candidate slot

  Reservations:
    POST   /api/reservations                  Book a slot (opens checkout)
    GET    /api/reservations?status=|from=&to=  Staff listing
    GET    /api/reservations/{id}             Reservation details
    GET    /api/reservations/{id}/payment     Current/new checkout session
    POST   /api/reservations/{id}/cancel      Customer or staff cancel
    POST   /api/reservations/{id}/complete    Staff marks delivered

  Schedule:
    GET    /api/schedule/hours                Weekly working hours
    PUT    /api/schedule/hours                Upsert one weekday
    GET    /api/schedule/blocks?from=&to=     Blocked intervals in range
    POST   /api/schedule/blocks               Add a block
    DELETE /api/schedule/blocks/{id}          Remove a block

  Refunds:
    POST   /api/refunds                       File a refund request
    GET    /api/refunds/pending               Staff queue
    POST   /api/refunds/{id}/approve          Approve (cancels + refunds)
    POST   /api/refunds/{id}/reject           Reject with a note
    POST   /api/refunds/{id}/refunded         Retry settlement of an approved request

  Payments:
    POST   /api/webhooks/payment              Signed provider callback
    GET    /api/payments/return?session_id=   Post-checkout verification

  Admin:
    POST   /api/admin/sweep                   Run the sweeper immediately
    POST   /api/admin/seed                    Load demo data (dev only)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflicts (slot taken, wrong state, duplicates)
  - 502: Payment provider unreachable
  - 500: Internal errors

SECURITY NOTE:
  No authentication beyond the webhook signature. Staff endpoints trust
  the actor field; front an auth proxy in production.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - webhook.go: Signature verification
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/payment"
	"github.com/warp/booking-engine/refund"
	"github.com/warp/booking-engine/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// CustomerStore is the directory slice the API needs: lookups plus the
// upsert the customer endpoint uses.
type CustomerStore interface {
	booking.CustomerDirectory
	SaveCustomer(ctx context.Context, c booking.Customer) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Bookings  *booking.Service
	Payments  *payment.Service
	Refunds   *refund.Service
	Sweeper   *booking.Sweeper
	Schedule  schedule.Store
	Catalog   booking.Catalog
	Store     booking.Store
	Customers CustomerStore

	// WebhookSecret signs provider callbacks; empty disables verification
	// (dev only).
	WebhookSecret string

	validate *validator.Validate
}

// NewHandler creates a handler with a shared validator instance.
func NewHandler() *Handler {
	return &Handler{validate: validator.New()}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// SERVICE ENDPOINTS
// =============================================================================

// ListServices returns the bookable catalog.
// GET /api/services
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""

	items, err := h.Catalog.ListServiceItems(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list services", err)
		return
	}

	dtos := make([]ServiceDTO, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, toServiceDTO(item))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveService creates or updates a catalog entry.
// POST /api/services
func (h *Handler) SaveService(w http.ResponseWriter, r *http.Request) {
	var req SaveServiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	item := booking.ServiceItem{
		ID:            booking.ServiceID(req.ID),
		Name:          req.Name,
		Duration:      time.Duration(req.DurationMin) * time.Minute,
		Price:         booking.NewMoneyFromCents(req.PriceCents, req.Currency),
		LoyaltyPoints: req.LoyaltyPoints,
		Active:        req.Active,
	}
	if err := h.Catalog.SaveServiceItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save service", err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceDTO(item))
}

// =============================================================================
// CUSTOMER ENDPOINTS
// =============================================================================

// SaveCustomer creates or updates a customer record.
// POST /api/customers
func (h *Handler) SaveCustomer(w http.ResponseWriter, r *http.Request) {
	var req SaveCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := booking.Customer{ID: booking.CustomerID(req.ID), Name: req.Name, Email: req.Email}
	if err := h.Customers.SaveCustomer(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save customer", err)
		return
	}
	writeJSON(w, http.StatusOK, CustomerDTO{ID: req.ID, Name: req.Name, Email: req.Email})
}

// CustomerReservations returns a customer's reservation history.
// GET /api/customers/{id}/reservations
func (h *Handler) CustomerReservations(w http.ResponseWriter, r *http.Request) {
	id := booking.CustomerID(chi.URLParam(r, "id"))

	reservations, err := h.Store.ListReservationsByCustomer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list reservations", err)
		return
	}

	dtos := make([]ReservationDTO, 0, len(reservations))
	for _, res := range reservations {
		dtos = append(dtos, toReservationDTO(res))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// AVAILABILITY ENDPOINT
// =============================================================================

// CheckAvailability evaluates a candidate slot without booking it.
// GET /api/availability?service_id=...&start=RFC3339
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339", err)
		return
	}
	item, err := h.Catalog.GetServiceItem(ctx, booking.ServiceID(r.URL.Query().Get("service_id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load service", err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "service not found", nil)
		return
	}

	avail, err := h.Bookings.Rules.IsAvailable(ctx, start, item.Duration)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{Available: avail.Available, Conflict: string(avail.Conflict)})
}

// =============================================================================
// RESERVATION ENDPOINTS
// =============================================================================

// CreateReservation books a slot and opens a payment checkout.
// POST /api/reservations
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339", err)
		return
	}

	created, session, err := h.Bookings.Create(r.Context(),
		booking.CustomerID(req.CustomerID), booking.ServiceID(req.ServiceID), start)
	if err != nil && created == nil {
		writeDomainError(w, err)
		return
	}

	resp := CreateReservationResponse{Reservation: toReservationDTO(*created)}
	if session != nil {
		resp.CheckoutURL = session.URL
		resp.SessionID = session.SessionID
	}
	if err != nil {
		// Reservation exists but the provider was unreachable; the client
		// should retry via the payment endpoint.
		resp.Warning = "payment provider unavailable, retry payment later"
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListReservations is the staff view over the book: filter by status or
// by a [from, to) time range.
// GET /api/reservations?status=CONFIRMED
// GET /api/reservations?from=RFC3339&to=RFC3339
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		reservations []booking.Reservation
		err          error
	)
	switch {
	case q.Get("status") != "":
		reservations, err = h.Store.ListReservationsByStatus(ctx, booking.ReservationStatus(q.Get("status")))
	case q.Get("from") != "" && q.Get("to") != "":
		var from, to time.Time
		if from, err = time.Parse(time.RFC3339, q.Get("from")); err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339", err)
			return
		}
		if to, err = time.Parse(time.RFC3339, q.Get("to")); err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339", err)
			return
		}
		reservations, err = h.Store.ListReservationsBetween(ctx, from, to)
	default:
		writeError(w, http.StatusBadRequest, "status or from/to filter is required", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list reservations", err)
		return
	}

	dtos := make([]ReservationDTO, 0, len(reservations))
	for _, res := range reservations {
		dtos = append(dtos, toReservationDTO(res))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReservation returns a reservation.
// GET /api/reservations/{id}
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := booking.ReservationID(chi.URLParam(r, "id"))

	res, err := h.Store.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load reservation", err)
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "reservation not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// ReservationPayment returns the open checkout for a reservation,
// opening a fresh one after a failed attempt.
// GET /api/reservations/{id}/payment
func (h *Handler) ReservationPayment(w http.ResponseWriter, r *http.Request) {
	id := booking.ReservationID(chi.URLParam(r, "id"))

	session, err := h.Payments.CheckoutURLFor(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":   session.SessionID,
		"checkout_url": session.URL,
	})
}

// CancelReservation cancels a reservation. With customer_id set it is
// the self-service path, gated by the free-cancellation window; with
// actor set it is the staff path, always allowed while non-terminal.
// POST /api/reservations/{id}/cancel
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := booking.ReservationID(chi.URLParam(r, "id"))

	var req CancelReservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.CustomerID != "":
		err = h.Bookings.CancelByCustomer(r.Context(), id, booking.CustomerID(req.CustomerID), req.Reason)
	case req.Actor != "":
		err = h.Bookings.Cancel(r.Context(), id, req.Actor, req.Reason)
	default:
		writeError(w, http.StatusBadRequest, "either customer_id or actor is required", nil)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompleteReservation marks a delivered service.
// POST /api/reservations/{id}/complete
func (h *Handler) CompleteReservation(w http.ResponseWriter, r *http.Request) {
	id := booking.ReservationID(chi.URLParam(r, "id"))

	var req CancelReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required", nil)
		return
	}

	if err := h.Bookings.Complete(r.Context(), id, req.Actor); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SCHEDULE ENDPOINTS
// =============================================================================

// ListWorkingHours returns the weekly schedule.
// GET /api/schedule/hours
func (h *Handler) ListWorkingHours(w http.ResponseWriter, r *http.Request) {
	hours, err := h.Schedule.ListWorkingHours(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list working hours", err)
		return
	}

	dtos := make([]WorkingHoursDTO, 0, len(hours))
	for _, wh := range hours {
		dtos = append(dtos, toWorkingHoursDTO(wh))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveWorkingHours upserts one weekday's window.
// PUT /api/schedule/hours
func (h *Handler) SaveWorkingHours(w http.ResponseWriter, r *http.Request) {
	var req SaveWorkingHoursRequest
	if !h.decode(w, r, &req) {
		return
	}

	wh := schedule.WorkingHours{Weekday: time.Weekday(req.Weekday), Closed: req.Closed}
	if !req.Closed {
		var err error
		if wh.Open, err = schedule.ParseTimeOfDay(req.Open); err != nil {
			writeError(w, http.StatusBadRequest, "invalid open time", err)
			return
		}
		if wh.Close, err = schedule.ParseTimeOfDay(req.Close); err != nil {
			writeError(w, http.StatusBadRequest, "invalid close time", err)
			return
		}
	}
	if err := wh.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid working hours", err)
		return
	}

	if err := h.Schedule.UpsertWorkingHours(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save working hours", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkingHoursDTO(wh))
}

// ListBlocks returns blocked intervals intersecting [from, to).
// GET /api/schedule/blocks?from=RFC3339&to=RFC3339
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be RFC3339", err)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be RFC3339", err)
		return
	}

	blocks, err := h.Schedule.BlockedIntervalsOverlapping(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list blocks", err)
		return
	}

	dtos := make([]BlockedIntervalDTO, 0, len(blocks))
	for _, b := range blocks {
		dtos = append(dtos, toBlockedIntervalDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddBlock blocks an interval.
// POST /api/schedule/blocks
func (h *Handler) AddBlock(w http.ResponseWriter, r *http.Request) {
	var req AddBlockRequest
	if !h.decode(w, r, &req) {
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339", err)
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339", err)
		return
	}

	b := schedule.BlockedInterval{
		ID:        uuid.NewString(),
		Start:     start,
		End:       end,
		Reason:    req.Reason,
		CreatedBy: req.CreatedBy,
	}
	if err := b.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval", err)
		return
	}
	if err := h.Schedule.AddBlockedInterval(r.Context(), b); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add block", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockedIntervalDTO(b))
}

// DeleteBlock removes a blocked interval.
// DELETE /api/schedule/blocks/{id}
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := h.Schedule.DeleteBlockedInterval(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete block", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REFUND ENDPOINTS
// =============================================================================

// CreateRefundRequest files a refund request inside the cutoff.
// POST /api/refunds
func (h *Handler) CreateRefundRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRefundRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.Refunds.Request(r.Context(),
		booking.ReservationID(req.ReservationID), booking.CustomerID(req.CustomerID), req.Reason, req.Attachment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRefundRequestDTO(*created))
}

// ListPendingRefunds is the staff decision queue.
// GET /api/refunds/pending
func (h *Handler) ListPendingRefunds(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Refunds.Store.ListRequestsByStatus(r.Context(), refund.StatusPending)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list refund requests", err)
		return
	}

	dtos := make([]RefundRequestDTO, 0, len(requests))
	for _, req := range requests {
		dtos = append(dtos, toRefundRequestDTO(req))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveRefund approves a pending request.
// POST /api/refunds/{id}/approve
func (h *Handler) ApproveRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Refunds.Approve(r.Context(), chi.URLParam(r, "id"), req.Staff, req.Note); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SettleRefund settles an approved request: the provider refund is
// executed and the request marked REFUNDED. Used to retry settlement
// after a provider outage parked the request in APPROVED.
// POST /api/refunds/{id}/refunded
func (h *Handler) SettleRefund(w http.ResponseWriter, r *http.Request) {
	if err := h.Refunds.MarkRefunded(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RejectRefund rejects a pending request.
// POST /api/refunds/{id}/reject
func (h *Handler) RejectRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Refunds.Reject(r.Context(), chi.URLParam(r, "id"), req.Staff, req.Note); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// PaymentReturn handles the customer's redirect back from the provider.
// The redirect itself proves nothing; the outcome is re-read from the
// provider before anything changes.
// GET /api/payments/return?session_id=...
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required", nil)
		return
	}

	if err := h.Payments.VerifyAndApply(r.Context(), sessionID); err != nil {
		writeDomainError(w, err)
		return
	}

	p, err := h.Payments.Store.PaymentBySession(r.Context(), sessionID)
	if err != nil || p == nil {
		writeError(w, http.StatusNotFound, "payment not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// TriggerSweep runs the stale-reservation sweep immediately.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	h.Sweeper.RunNow(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", err)
	case booking.IsConflict(err),
		errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrPaymentExists),
		errors.Is(err, booking.ErrDuplicateRefundRequest),
		errors.Is(err, booking.ErrRefundWindowOpen),
		errors.Is(err, booking.ErrRefundWindowClosed):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, booking.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input", err)
	case booking.IsRetryable(err):
		writeError(w, http.StatusBadGateway, "payment provider unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
