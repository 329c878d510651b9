/*
sweeper.go - Periodic reclamation of abandoned unpaid reservations

PURPOSE:
  A reservation must not stay PENDING forever. Every sweep interval the
  sweeper runs two independent scans over PENDING reservations older
  than the grace period:

    1. latest payment FAILED       -> cancel "payment not completed in time"
    2. no SUCCEEDED payment at all -> cancel "no payment received in time"

  Both scans are idempotent and safe to run concurrently with booking
  and payment traffic, and with a second sweeper instance: every cancel
  is a CAS on PENDING, so a reservation confirmed mid-scan is never
  touched.

GRACE PERIOD:
  Measured from reservation creation time, not last activity. Re-opening
  a payment after a failure does NOT extend it.

USAGE:
  sweeper := booking.NewSweeper(store, probe, svc)
  sweeper.Start()
  defer sweeper.Stop()
*/
package booking

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/booking-engine/audit"
	"github.com/warp/booking-engine/notify"
)

// Sweeper cancels stale unpaid reservations on a fixed interval.
type Sweeper struct {
	Store     Store
	Payments  PaymentProbe
	Lifecycle *Service

	Interval time.Duration
	Grace    time.Duration

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

const (
	reasonPaymentFailed = "payment not completed in time"
	reasonNoPayment     = "no payment received in time"
)

// NewSweeper creates a sweeper with the default 5 minute interval and
// 15 minute grace period.
func NewSweeper(store Store, payments PaymentProbe, lifecycle *Service) *Sweeper {
	return &Sweeper{
		Store:     store,
		Payments:  payments,
		Lifecycle: lifecycle,
		Interval:  5 * time.Minute,
		Grace:     15 * time.Minute,
		stop:      make(chan struct{}),
	}
}

func (sw *Sweeper) now() time.Time {
	if sw.Now != nil {
		return sw.Now()
	}
	return time.Now()
}

// Start begins the background loop. The first sweep runs immediately.
func (sw *Sweeper) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.ticker = time.NewTicker(sw.Interval)
	sw.wg.Add(1)
	go sw.run()

	log.Printf("[Sweeper] started: interval=%v grace=%v", sw.Interval, sw.Grace)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.ticker != nil {
		sw.ticker.Stop()
		close(sw.stop)
		sw.wg.Wait()
		log.Println("[Sweeper] stopped")
	}
}

func (sw *Sweeper) run() {
	defer sw.wg.Done()

	sw.sweep(context.Background())

	for {
		select {
		case <-sw.ticker.C:
			sw.sweep(context.Background())
		case <-sw.stop:
			return
		}
	}
}

// RunNow triggers an immediate sweep (tests, admin endpoint).
func (sw *Sweeper) RunNow(ctx context.Context) {
	sw.sweep(ctx)
}

func (sw *Sweeper) sweep(ctx context.Context) {
	cutoff := sw.now().Add(-sw.Grace)

	failed := sw.sweepFailedPayments(ctx, cutoff)
	unpaid := sw.sweepWithoutPayment(ctx, cutoff)

	if failed > 0 || unpaid > 0 {
		log.Printf("[Sweeper] cancelled %d with failed payment, %d without payment", failed, unpaid)
	}
}

// sweepFailedPayments cancels stale PENDING reservations whose latest
// payment is FAILED.
func (sw *Sweeper) sweepFailedPayments(ctx context.Context, cutoff time.Time) int {
	stale, err := sw.Store.ListPendingCreatedBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[Sweeper] listing stale reservations: %v", err)
		return 0
	}

	cancelled := 0
	for _, r := range stale {
		hasFailed, err := sw.Payments.HasFailedPayment(ctx, r.ID)
		if err != nil {
			log.Printf("[Sweeper] payment lookup for %s: %v", r.ID, err)
			continue
		}
		if !hasFailed {
			continue
		}
		if sw.cancel(ctx, r, reasonPaymentFailed) {
			cancelled++
		}
	}
	return cancelled
}

// sweepWithoutPayment cancels stale PENDING reservations that never
// produced a succeeded payment at all.
func (sw *Sweeper) sweepWithoutPayment(ctx context.Context, cutoff time.Time) int {
	stale, err := sw.Store.ListPendingCreatedBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[Sweeper] listing stale reservations: %v", err)
		return 0
	}

	cancelled := 0
	for _, r := range stale {
		hasSucceeded, err := sw.Payments.HasSucceededPayment(ctx, r.ID)
		if err != nil {
			log.Printf("[Sweeper] payment lookup for %s: %v", r.ID, err)
			continue
		}
		if hasSucceeded {
			continue
		}
		if sw.cancel(ctx, r, reasonNoPayment) {
			cancelled++
		}
	}
	return cancelled
}

// cancel CAS-transitions the reservation out of PENDING. A false swap
// means a payment callback confirmed it mid-scan; the sweep loses and
// moves on.
func (sw *Sweeper) cancel(ctx context.Context, r Reservation, reason string) bool {
	swapped, err := sw.Store.UpdateReservationStatus(ctx, r.ID, StatusPending, StatusCancelled, reason)
	if err != nil {
		log.Printf("[Sweeper] cancelling %s: %v", r.ID, err)
		return false
	}
	if !swapped {
		log.Printf("[Sweeper] reservation %s transitioned during sweep, skipping", r.ID)
		return false
	}

	log.Printf("[Sweeper] cancelled reservation %s: %s", r.ID, reason)
	if sw.Lifecycle != nil {
		audit.Record(sw.Lifecycle.Audit, "sweeper", "RESERVATION_AUTO_CANCELLED", "Reservation", string(r.ID), map[string]string{"reason": reason})
		sw.Lifecycle.notifyCustomer(ctx, &r, notify.KindBookingCancelled, map[string]string{
			"start":  r.Start.Format(time.RFC3339),
			"reason": reason,
		})
	}
	return true
}
