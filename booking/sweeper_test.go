package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeProbe answers the sweeper's payment questions from maps.
type fakeProbe struct {
	succeeded map[booking.ReservationID]bool
	failed    map[booking.ReservationID]bool
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		succeeded: make(map[booking.ReservationID]bool),
		failed:    make(map[booking.ReservationID]bool),
	}
}

func (f *fakeProbe) HasSucceededPayment(_ context.Context, id booking.ReservationID) (bool, error) {
	return f.succeeded[id], nil
}

func (f *fakeProbe) HasFailedPayment(_ context.Context, id booking.ReservationID) (bool, error) {
	return f.failed[id], nil
}

func newTestSweeper(t *testing.T) (*booking.Sweeper, *fakeProbe, *memory.Memory) {
	store := memory.New()
	probe := newFakeProbe()

	sw := booking.NewSweeper(store, probe, nil)
	sw.Grace = 15 * time.Minute
	sw.Now = func() time.Time { return fixedNow }
	return sw, probe, store
}

// seedPending inserts a PENDING reservation created `age` before fixedNow.
// Each call books a different slot to keep the no-overlap check happy.
func seedPending(t *testing.T, store *memory.Memory, id string, age time.Duration, slot int) booking.ReservationID {
	t.Helper()
	start := tuesday10.Add(time.Duration(slot) * time.Hour)
	require.NoError(t, store.CreateReservation(context.Background(), booking.Reservation{
		ID:         booking.ReservationID(id),
		CustomerID: "cust-1",
		ServiceID:  "svc-1",
		Service:    booking.ServiceItem{ID: "svc-1", Duration: 30 * time.Minute},
		Start:      start,
		Status:     booking.StatusPending,
		CreatedAt:  fixedNow.Add(-age),
		UpdatedAt:  fixedNow.Add(-age),
	}))
	return booking.ReservationID(id)
}

func statusOf(t *testing.T, store *memory.Memory, id booking.ReservationID) booking.ReservationStatus {
	t.Helper()
	r, err := store.GetReservation(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r.Status
}

// =============================================================================
// SWEEP SCANS
// =============================================================================

func TestSweep_StaleWithoutPayment_Cancelled(t *testing.T) {
	// GIVEN: A PENDING reservation 30 minutes old, no payment at all
	// WHEN: Sweeping with a 15 minute grace period
	// THEN: Cancelled with the no-payment reason

	sw, _, store := newTestSweeper(t)
	id := seedPending(t, store, "res-stale", 30*time.Minute, 0)

	sw.RunNow(context.Background())

	assert.Equal(t, booking.StatusCancelled, statusOf(t, store, id))
	r, _ := store.GetReservation(context.Background(), id)
	assert.Equal(t, "no payment received in time", r.CancelReason)
}

func TestSweep_StaleWithFailedPayment_Cancelled(t *testing.T) {
	// GIVEN: A stale PENDING reservation whose latest payment FAILED
	// WHEN: Sweeping
	// THEN: Cancelled with the failed-payment reason

	sw, probe, store := newTestSweeper(t)
	id := seedPending(t, store, "res-failed", 30*time.Minute, 0)
	probe.failed[id] = true

	sw.RunNow(context.Background())

	assert.Equal(t, booking.StatusCancelled, statusOf(t, store, id))
	r, _ := store.GetReservation(context.Background(), id)
	assert.Equal(t, "payment not completed in time", r.CancelReason)
}

func TestSweep_FreshPending_Untouched(t *testing.T) {
	// GIVEN: A PENDING reservation 5 minutes old
	// WHEN: Sweeping with a 15 minute grace period
	// THEN: Untouched; still inside the grace period

	sw, _, store := newTestSweeper(t)
	id := seedPending(t, store, "res-fresh", 5*time.Minute, 0)

	sw.RunNow(context.Background())

	assert.Equal(t, booking.StatusPending, statusOf(t, store, id))
}

func TestSweep_ExactlyAtGrace_Untouched(t *testing.T) {
	// GIVEN: A PENDING reservation created exactly grace-period ago
	// WHEN: Sweeping
	// THEN: Untouched; only strictly older reservations are reclaimed

	sw, _, store := newTestSweeper(t)
	id := seedPending(t, store, "res-boundary", 15*time.Minute, 0)

	sw.RunNow(context.Background())

	assert.Equal(t, booking.StatusPending, statusOf(t, store, id))
}

func TestSweep_StaleWithSucceededPayment_Untouched(t *testing.T) {
	// GIVEN: A stale PENDING reservation whose payment SUCCEEDED (the
	//        confirm callback has not landed yet)
	// WHEN: Sweeping
	// THEN: Untouched; the money arrived, the callback will confirm

	sw, probe, store := newTestSweeper(t)
	id := seedPending(t, store, "res-paid", 30*time.Minute, 0)
	probe.succeeded[id] = true

	sw.RunNow(context.Background())

	assert.Equal(t, booking.StatusPending, statusOf(t, store, id))
}

func TestSweep_Confirmed_Untouched(t *testing.T) {
	// GIVEN: A stale but CONFIRMED reservation
	// WHEN: Sweeping
	// THEN: Untouched; only PENDING reservations are scanned

	sw, _, store := newTestSweeper(t)
	id := seedPending(t, store, "res-confirmed", 30*time.Minute, 0)
	swapped, err := store.UpdateReservationStatus(context.Background(), id, booking.StatusPending, booking.StatusConfirmed, "")
	require.NoError(t, err)
	require.True(t, swapped)

	sw.RunNow(context.Background())

	assert.Equal(t, booking.StatusConfirmed, statusOf(t, store, id))
}

func TestSweep_MixedBatch_OnlyStaleUnpaidCancelled(t *testing.T) {
	// GIVEN: One stale unpaid, one stale paid, one fresh unpaid
	// WHEN: Sweeping
	// THEN: Only the stale unpaid reservation is cancelled

	sw, probe, store := newTestSweeper(t)
	stale := seedPending(t, store, "res-a", 30*time.Minute, 0)
	paid := seedPending(t, store, "res-b", 30*time.Minute, 1)
	fresh := seedPending(t, store, "res-c", 5*time.Minute, 2)
	probe.succeeded[paid] = true

	sw.RunNow(context.Background())

	assert.Equal(t, booking.StatusCancelled, statusOf(t, store, stale))
	assert.Equal(t, booking.StatusPending, statusOf(t, store, paid))
	assert.Equal(t, booking.StatusPending, statusOf(t, store, fresh))
}

// =============================================================================
// RACE AGAINST PAYMENT CALLBACKS
// =============================================================================

// racingProbe confirms the reservation between the sweeper's list and its
// CAS, simulating a payment callback landing mid-scan.
type racingProbe struct {
	store *memory.Memory
	id    booking.ReservationID
}

func (p *racingProbe) HasSucceededPayment(_ context.Context, _ booking.ReservationID) (bool, error) {
	return false, nil
}

func (p *racingProbe) HasFailedPayment(_ context.Context, _ booking.ReservationID) (bool, error) {
	// Called before the CAS; sneak the confirmation in here.
	_, err := p.store.UpdateReservationStatus(context.Background(), p.id,
		booking.StatusPending, booking.StatusConfirmed, "")
	return false, err
}

func TestSweep_ConfirmLandsMidScan_SweepLoses(t *testing.T) {
	// GIVEN: A stale PENDING reservation that gets confirmed after the
	//        sweeper listed it but before it cancels
	// WHEN: Sweeping
	// THEN: The CAS fails and the reservation stays CONFIRMED

	store := memory.New()
	id := seedPending(t, store, "res-race", 30*time.Minute, 0)

	sw := booking.NewSweeper(store, &racingProbe{store: store, id: id}, nil)
	sw.Now = func() time.Time { return fixedNow }

	sw.RunNow(context.Background())

	assert.Equal(t, booking.StatusConfirmed, statusOf(t, store, id))
}
