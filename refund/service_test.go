package refund_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/refund"
	"github.com/warp/booking-engine/schedule"
	"github.com/warp/booking-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	// Reservation start: Tuesday March 10, 2026, 10:00 UTC.
	startAt = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	// Two hours before start: inside the 24h cutoff.
	insideCutoff = startAt.Add(-2 * time.Hour)

	// Three days before start: free cancellation still applies.
	outsideCutoff = startAt.Add(-72 * time.Hour)
)

// fakeProbe reports a fixed payment state per reservation.
type fakeProbe struct {
	paid map[booking.ReservationID]bool
}

func (f *fakeProbe) HasSucceededPayment(_ context.Context, id booking.ReservationID) (bool, error) {
	return f.paid[id], nil
}

func (f *fakeProbe) HasFailedPayment(_ context.Context, _ booking.ReservationID) (bool, error) {
	return false, nil
}

// fakeRefunder records provider refund executions.
type fakeRefunder struct {
	calls []booking.ReservationID
	err   error
}

func (f *fakeRefunder) Refund(_ context.Context, id booking.ReservationID) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, id)
	return nil
}

type testEnv struct {
	refunds  *refund.Service
	bookings *booking.Service
	store    *memory.Memory
	probe    *fakeProbe
	refunder *fakeRefunder
}

func newTestEnv(t *testing.T) *testEnv {
	store := memory.New()
	ctx := context.Background()

	open, err := schedule.ParseTimeOfDay("09:00")
	require.NoError(t, err)
	close, err := schedule.ParseTimeOfDay("18:00")
	require.NoError(t, err)
	for day := time.Monday; day <= time.Saturday; day++ {
		require.NoError(t, store.UpsertWorkingHours(ctx, schedule.WorkingHours{
			Weekday: day, Open: open, Close: close,
		}))
	}

	require.NoError(t, store.SaveServiceItem(ctx, booking.ServiceItem{
		ID:       "cut-classic",
		Name:     "Classic Cut",
		Duration: 30 * time.Minute,
		Price:    booking.NewMoneyFromCents(2500, "EUR"),
		Active:   true,
	}))
	require.NoError(t, store.SaveCustomer(ctx, booking.Customer{
		ID: "cust-1", Name: "Ada Lovelace", Email: "ada@example.com",
	}))

	checker := booking.NewChecker(store, store)
	checker.Now = func() time.Time { return insideCutoff }

	bookings := &booking.Service{
		Store:   store,
		Catalog: store,
		Rules:   checker,
		Policy:  refund.Window{Cutoff: 24 * time.Hour},
		Now:     func() time.Time { return insideCutoff },
	}

	probe := &fakeProbe{paid: make(map[booking.ReservationID]bool)}
	refunder := &fakeRefunder{}

	refunds := &refund.Service{
		Store:        store,
		Reservations: bookings,
		Payments:     probe,
		Refunder:     refunder,
		Window:       refund.Window{Cutoff: 24 * time.Hour},
		Now:          func() time.Time { return insideCutoff },
	}
	return &testEnv{refunds: refunds, bookings: bookings, store: store, probe: probe, refunder: refunder}
}

// confirmedPaid creates a CONFIRMED reservation with a succeeded payment.
func (e *testEnv) confirmedPaid(t *testing.T) *booking.Reservation {
	t.Helper()
	ctx := context.Background()

	r, _, err := e.bookings.Create(ctx, "cust-1", "cut-classic", startAt)
	require.NoError(t, err)
	require.NoError(t, e.bookings.Confirm(ctx, r.ID))
	e.probe.paid[r.ID] = true

	cur, err := e.store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	return cur
}

// =============================================================================
// CANCELLATION WINDOW
// =============================================================================

func TestWindow_Boundaries(t *testing.T) {
	w := refund.Window{Cutoff: 24 * time.Hour}
	start := startAt

	// Strictly more than 24h before start: free.
	assert.True(t, w.FreeCancellationAllowed(start.Add(-25*time.Hour), start))
	assert.True(t, w.FreeCancellationAllowed(start.Add(-24*time.Hour-time.Second), start))

	// Exactly 24h before start: the boundary counts as inside.
	assert.False(t, w.FreeCancellationAllowed(start.Add(-24*time.Hour), start))

	// Less than 24h: inside.
	assert.False(t, w.FreeCancellationAllowed(start.Add(-time.Hour), start))
	assert.False(t, w.FreeCancellationAllowed(start, start))
}

func TestDefaultWindow(t *testing.T) {
	assert.Equal(t, 24*time.Hour, refund.DefaultWindow().Cutoff)
}

// =============================================================================
// REQUEST
// =============================================================================

func TestRequest_InsideCutoff_Filed(t *testing.T) {
	// GIVEN: A CONFIRMED, paid reservation 2h before start
	// WHEN: The customer requests a refund
	// THEN: A PENDING request is persisted

	env := newTestEnv(t)
	r := env.confirmedPaid(t)

	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "family emergency", "")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, refund.StatusPending, req.Status)
	assert.Equal(t, "family emergency", req.Reason)

	pending, err := env.store.PendingRequestByReservation(context.Background(), r.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, req.ID, pending.ID)
}

func TestRequest_KeepsAttachmentReference(t *testing.T) {
	// GIVEN: A refund request with an uploaded justification file
	// WHEN: Filing it
	// THEN: The file reference survives the round trip

	env := newTestEnv(t)
	r := env.confirmedPaid(t)

	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "medical", "uploads/note-cust-1.pdf")
	require.NoError(t, err)

	stored, err := env.store.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "uploads/note-cust-1.pdf", stored.Attachment)
}

func TestRequest_OutsideCutoff_Refused(t *testing.T) {
	// GIVEN: 3 days before start, free cancellation still applies
	// WHEN: Requesting a refund
	// THEN: ErrRefundWindowOpen; the customer should just cancel

	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	env.refunds.Now = func() time.Time { return outsideCutoff }

	_, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "changed plans", "")
	assert.ErrorIs(t, err, booking.ErrRefundWindowOpen)
}

func TestRequest_AlreadyStarted_Refused(t *testing.T) {
	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	env.refunds.Now = func() time.Time { return startAt.Add(time.Minute) }

	_, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "too late", "")
	assert.ErrorIs(t, err, booking.ErrInvalidInput)
}

func TestRequest_PendingReservation_Refused(t *testing.T) {
	// Unpaid PENDING reservations have nothing to refund.

	env := newTestEnv(t)
	r, _, err := env.bookings.Create(context.Background(), "cust-1", "cut-classic", startAt)
	require.NoError(t, err)

	_, err = env.refunds.Request(context.Background(), r.ID, "cust-1", "never paid", "")
	assert.ErrorIs(t, err, booking.ErrInvalidInput)
}

func TestRequest_NoSucceededPayment_Refused(t *testing.T) {
	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	env.probe.paid[r.ID] = false

	_, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "no money moved", "")
	assert.ErrorIs(t, err, booking.ErrInvalidInput)
}

func TestRequest_WrongCustomer_NotFound(t *testing.T) {
	env := newTestEnv(t)
	r := env.confirmedPaid(t)

	_, err := env.refunds.Request(context.Background(), r.ID, "cust-other", "not mine", "")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestRequest_Duplicate_Refused(t *testing.T) {
	// GIVEN: An open PENDING request
	// WHEN: Filing a second one for the same reservation
	// THEN: ErrDuplicateRefundRequest

	env := newTestEnv(t)
	r := env.confirmedPaid(t)

	_, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "first", "")
	require.NoError(t, err)

	_, err = env.refunds.Request(context.Background(), r.ID, "cust-1", "second", "")
	assert.ErrorIs(t, err, booking.ErrDuplicateRefundRequest)
}

// =============================================================================
// APPROVE
// =============================================================================

func TestApprove_CancelsReservationAndSettles(t *testing.T) {
	// GIVEN: A PENDING refund request
	// WHEN: Staff approve it
	// THEN: Reservation CANCELLED, provider refund executed, request REFUNDED

	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)

	require.NoError(t, env.refunds.Approve(context.Background(), req.ID, "staff-anna", "approved"))

	cur, _ := env.store.GetReservation(context.Background(), r.ID)
	assert.Equal(t, booking.StatusCancelled, cur.Status)
	assert.Equal(t, "refund approved", cur.CancelReason)

	assert.Equal(t, []booking.ReservationID{r.ID}, env.refunder.calls)

	settled, err := env.store.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusRefunded, settled.Status)
	assert.Equal(t, "staff-anna", settled.DecidedBy)
}

func TestApprove_Twice_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)

	require.NoError(t, env.refunds.Approve(context.Background(), req.ID, "staff-anna", ""))
	require.NoError(t, env.refunds.Approve(context.Background(), req.ID, "staff-anna", ""))

	assert.Len(t, env.refunder.calls, 1)
}

func TestApprove_ProviderDown_StaysApproved(t *testing.T) {
	// GIVEN: The provider refund call fails
	// WHEN: Approving
	// THEN: No error, reservation CANCELLED, request parked in APPROVED;
	//       MarkRefunded settles it once the provider recovers

	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)

	env.refunder.err = booking.ErrProviderUnavailable
	require.NoError(t, env.refunds.Approve(context.Background(), req.ID, "staff-anna", ""))

	cur, _ := env.store.GetRequest(context.Background(), req.ID)
	assert.Equal(t, refund.StatusApproved, cur.Status)
	assert.Empty(t, env.refunder.calls)

	res, _ := env.store.GetReservation(context.Background(), r.ID)
	assert.Equal(t, booking.StatusCancelled, res.Status)

	// Provider is back; settle manually.
	env.refunder.err = nil
	require.NoError(t, env.refunds.MarkRefunded(context.Background(), req.ID))

	cur, _ = env.store.GetRequest(context.Background(), req.ID)
	assert.Equal(t, refund.StatusRefunded, cur.Status)
	assert.Equal(t, []booking.ReservationID{r.ID}, env.refunder.calls)
}

func TestMarkRefunded_ProviderStillDown_StaysApproved(t *testing.T) {
	// GIVEN: A request parked in APPROVED by a provider outage
	// WHEN: Settling while the provider is still down
	// THEN: Error, request stays APPROVED, no money marked as moved

	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)

	env.refunder.err = booking.ErrProviderUnavailable
	require.NoError(t, env.refunds.Approve(context.Background(), req.ID, "staff-anna", ""))

	err = env.refunds.MarkRefunded(context.Background(), req.ID)
	assert.ErrorIs(t, err, booking.ErrProviderUnavailable)

	cur, _ := env.store.GetRequest(context.Background(), req.ID)
	assert.Equal(t, refund.StatusApproved, cur.Status)
	assert.Empty(t, env.refunder.calls)
}

func TestApprove_Rejected_InvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)
	require.NoError(t, env.refunds.Reject(context.Background(), req.ID, "staff-anna", "outside policy"))

	err = env.refunds.Approve(context.Background(), req.ID, "staff-bob", "")
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestApprove_Unknown_NotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.refunds.Approve(context.Background(), "ghost", "staff", "")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

// =============================================================================
// REJECT
// =============================================================================

func TestReject_ClosesRequest_ReservationUntouched(t *testing.T) {
	// GIVEN: A PENDING refund request
	// WHEN: Staff reject it with a note
	// THEN: Request REJECTED, reservation stays CONFIRMED

	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)

	require.NoError(t, env.refunds.Reject(context.Background(), req.ID, "staff-anna", "outside policy"))

	cur, _ := env.store.GetRequest(context.Background(), req.ID)
	assert.Equal(t, refund.StatusRejected, cur.Status)
	assert.Equal(t, "outside policy", cur.DecisionNote)

	res, _ := env.store.GetReservation(context.Background(), r.ID)
	assert.Equal(t, booking.StatusConfirmed, res.Status)
	assert.Empty(t, env.refunder.calls)
}

func TestReject_Twice_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)

	require.NoError(t, env.refunds.Reject(context.Background(), req.ID, "staff-anna", "no"))
	require.NoError(t, env.refunds.Reject(context.Background(), req.ID, "staff-anna", "no"))
}

func TestReject_AfterApprove_InvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)
	require.NoError(t, env.refunds.Approve(context.Background(), req.ID, "staff-anna", ""))

	err = env.refunds.Reject(context.Background(), req.ID, "staff-bob", "too late")
	require.Error(t, err)
	assert.True(t, errors.Is(err, booking.ErrInvalidTransition))
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestMarkRefunded_FromPending_InvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)

	err = env.refunds.MarkRefunded(context.Background(), req.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestMarkRefunded_Twice_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	r := env.confirmedPaid(t)
	req, err := env.refunds.Request(context.Background(), r.ID, "cust-1", "emergency", "")
	require.NoError(t, err)
	require.NoError(t, env.refunds.Approve(context.Background(), req.ID, "staff-anna", ""))

	require.NoError(t, env.refunds.MarkRefunded(context.Background(), req.ID))

	cur, _ := env.store.GetRequest(context.Background(), req.ID)
	assert.Equal(t, refund.StatusRefunded, cur.Status)
}
