/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the booking engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and environment configuration
  2. Initialize SQLite store
  3. Wire domain services (booking, payment, refund) and the sweeper
  4. Configure HTTP router
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper, waiting for an in-flight sweep
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  DB_PATH=./data/booking.db ./server

  # Run with in-memory database
  DB_PATH=":memory:" ./server

PROVIDER FALLBACKS:
  Without OMISE_* keys the engine runs provider-free: reservations are
  created but no checkout opens. Without MAILJET_* keys notifications
  go to the process log.

SEE ALSO:
  - config/config.go: Environment variables and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/booking-engine/api"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/config"
	"github.com/warp/booking-engine/notify"
	"github.com/warp/booking-engine/payment"
	omisegw "github.com/warp/booking-engine/payment/omise"
	"github.com/warp/booking-engine/refund"
	"github.com/warp/booking-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Notifications: Mailjet when configured, process log otherwise.
	var notifier notify.Sender = notify.LogSender{}
	if cfg.MailjetAPIKey != "" && cfg.MailjetSecretKey != "" {
		notifier = notify.NewMailjetSender(cfg.MailjetAPIKey, cfg.MailjetSecretKey,
			cfg.MailFromEmail, cfg.MailFromName)
	}

	checker := booking.NewChecker(store, store)

	bookings := &booking.Service{
		Store:     store,
		Catalog:   store,
		Rules:     checker,
		Directory: store,
		Notifier:  notifier,
		Audit:     store,
		Policy:    refund.Window{Cutoff: cfg.RefundCutoff},
	}

	payments := &payment.Service{
		Store:        store,
		Reservations: bookings,
		Catalog:      store,
		Directory:    store,
		Loyalty:      store,
		Notifier:     notifier,
		Audit:        store,
	}

	// Payment provider: Omise when configured. Without it reservations
	// are still created; no checkout opens.
	if cfg.OmisePublicKey != "" && cfg.OmiseSecretKey != "" {
		returnURI := cfg.FrontendURL + "/payments/return"
		gateway, err := omisegw.New(cfg.OmisePublicKey, cfg.OmiseSecretKey, returnURI)
		if err != nil {
			log.Fatalf("Failed to initialize payment gateway: %v", err)
		}
		payments.Provider = gateway
		bookings.Payments = payments
	} else {
		log.Println("No payment provider configured, running provider-free")
	}

	refunds := &refund.Service{
		Store:        store,
		Reservations: bookings,
		Payments:     payment.Probe{Store: store},
		Refunder:     payments,
		Directory:    store,
		Notifier:     notifier,
		Audit:        store,
		Window:       refund.Window{Cutoff: cfg.RefundCutoff},
	}

	sweeper := booking.NewSweeper(store, payment.Probe{Store: store}, bookings)
	sweeper.Interval = cfg.SweepInterval
	sweeper.Grace = cfg.GracePeriod
	sweeper.Start()
	defer sweeper.Stop()

	handler := api.NewHandler()
	handler.Bookings = bookings
	handler.Payments = payments
	handler.Refunds = refunds
	handler.Sweeper = sweeper
	handler.Schedule = store
	handler.Catalog = store
	handler.Store = store
	handler.Customers = store
	handler.WebhookSecret = cfg.WebhookSecret

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(handler, cfg.FrontendURL),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
