/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, frontendURL string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{frontendURL, "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", signatureHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Catalog
		r.Route("/services", func(r chi.Router) {
			r.Get("/", h.ListServices)
			r.Post("/", h.SaveService)
		})

		// Customers
		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.SaveCustomer)
			r.Get("/{id}/reservations", h.CustomerReservations)
		})

		// Availability
		r.Get("/availability", h.CheckAvailability)

		// Reservations
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.CreateReservation)
			r.Get("/", h.ListReservations)
			r.Get("/{id}", h.GetReservation)
			r.Get("/{id}/payment", h.ReservationPayment)
			r.Post("/{id}/cancel", h.CancelReservation)
			r.Post("/{id}/complete", h.CompleteReservation)
		})

		// Schedule
		r.Route("/schedule", func(r chi.Router) {
			r.Get("/hours", h.ListWorkingHours)
			r.Put("/hours", h.SaveWorkingHours)
			r.Get("/blocks", h.ListBlocks)
			r.Post("/blocks", h.AddBlock)
			r.Delete("/blocks/{id}", h.DeleteBlock)
		})

		// Refunds
		r.Route("/refunds", func(r chi.Router) {
			r.Post("/", h.CreateRefundRequest)
			r.Get("/pending", h.ListPendingRefunds)
			r.Post("/{id}/approve", h.ApproveRefund)
			r.Post("/{id}/reject", h.RejectRefund)
			r.Post("/{id}/refunded", h.SettleRefund)
		})

		// Payments
		r.Post("/webhooks/payment", h.PaymentWebhook)
		r.Get("/payments/return", h.PaymentReturn)

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
			r.Post("/seed", h.LoadSeed)
		})
	})

	return r
}
