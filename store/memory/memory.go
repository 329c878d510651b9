/*
Package memory provides the in-memory implementation of the storage
interfaces (for testing/dev).

Everything lives in maps behind a single mutex. WithTx serializes fn
against all other access, which gives tests the same check-then-insert
atomicity the SQLite store provides; it does not roll back partial
writes, so fn bodies that fail must not have written anything first
(the lifecycle code writes last).
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/booking-engine/audit"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/payment"
	"github.com/warp/booking-engine/refund"
	"github.com/warp/booking-engine/schedule"
)

// Memory implements all storage interfaces in maps.
type Memory struct {
	mu sync.RWMutex

	reservations map[booking.ReservationID]booking.Reservation
	services     map[booking.ServiceID]booking.ServiceItem
	customers    map[booking.CustomerID]booking.Customer
	payments     map[booking.PaymentID]payment.Payment
	refunds      map[string]refund.Request
	hours        map[time.Weekday]schedule.WorkingHours
	blocks       map[string]schedule.BlockedInterval
	auditLog     []audit.Entry
	loyalty      map[string]loyaltyAward
}

type loyaltyAward struct {
	customerID booking.CustomerID
	points     int
}

func New() *Memory {
	return &Memory{
		reservations: make(map[booking.ReservationID]booking.Reservation),
		services:     make(map[booking.ServiceID]booking.ServiceItem),
		customers:    make(map[booking.CustomerID]booking.Customer),
		payments:     make(map[booking.PaymentID]payment.Payment),
		refunds:      make(map[string]refund.Request),
		hours:        make(map[time.Weekday]schedule.WorkingHours),
		blocks:       make(map[string]schedule.BlockedInterval),
		loyalty:      make(map[string]loyaltyAward),
	}
}

// =============================================================================
// RESERVATION STORE (booking.Store interface)
// =============================================================================

func (m *Memory) CreateReservation(_ context.Context, r booking.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createReservationLocked(r)
}

func (m *Memory) createReservationLocked(r booking.Reservation) error {
	slot := r.Interval()
	for _, other := range m.reservations {
		if other.Status == booking.StatusCancelled {
			continue
		}
		if slot.Overlaps(other.Interval()) {
			return &booking.ConflictError{Reason: booking.ConflictSlotTaken, Interval: slot}
		}
	}
	m.reservations[r.ID] = r
	return nil
}

func (m *Memory) GetReservation(_ context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReservationLocked(id), nil
}

func (m *Memory) getReservationLocked(id booking.ReservationID) *booking.Reservation {
	r, ok := m.reservations[id]
	if !ok {
		return nil
	}
	return &r
}

func (m *Memory) ListOverlapping(_ context.Context, from, to time.Time) ([]booking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOverlappingLocked(from, to), nil
}

func (m *Memory) listOverlappingLocked(from, to time.Time) []booking.Reservation {
	window := booking.Interval{Start: from, End: to}
	var result []booking.Reservation
	for _, r := range m.reservations {
		if r.Status == booking.StatusCancelled {
			continue
		}
		if window.Overlaps(r.Interval()) {
			result = append(result, r)
		}
	}
	sortByStart(result)
	return result
}

func (m *Memory) UpdateReservationStatus(_ context.Context, id booking.ReservationID, from, to booking.ReservationStatus, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casReservationLocked(id, from, to, reason), nil
}

func (m *Memory) casReservationLocked(id booking.ReservationID, from, to booking.ReservationStatus, reason string) bool {
	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return false
	}
	r.Status = to
	if reason != "" {
		r.CancelReason = reason
	}
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	m.reservations[id] = r
	return true
}

func (m *Memory) ListPendingCreatedBefore(_ context.Context, cutoff time.Time) ([]booking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []booking.Reservation
	for _, r := range m.reservations {
		if r.Status == booking.StatusPending && r.CreatedAt.Before(cutoff) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) ListReservationsByCustomer(_ context.Context, id booking.CustomerID) ([]booking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []booking.Reservation
	for _, r := range m.reservations {
		if r.CustomerID == id {
			result = append(result, r)
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *Memory) ListReservationsByStatus(_ context.Context, status booking.ReservationStatus) ([]booking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []booking.Reservation
	for _, r := range m.reservations {
		if r.Status == status {
			result = append(result, r)
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *Memory) ListReservationsBetween(_ context.Context, from, to time.Time) ([]booking.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []booking.Reservation
	for _, r := range m.reservations {
		if !r.Start.Before(from) && r.Start.Before(to) {
			result = append(result, r)
		}
	}
	sortByStart(result)
	return result, nil
}

// WithTx serializes fn against all other access through the mutex.
func (m *Memory) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&txView{m: m})
}

// txView is the unlocked view handed to WithTx bodies.
type txView struct {
	m *Memory
}

func (v *txView) CreateReservation(_ context.Context, r booking.Reservation) error {
	return v.m.createReservationLocked(r)
}

func (v *txView) GetReservation(_ context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	return v.m.getReservationLocked(id), nil
}

func (v *txView) ListOverlapping(_ context.Context, from, to time.Time) ([]booking.Reservation, error) {
	return v.m.listOverlappingLocked(from, to), nil
}

func (v *txView) UpdateReservationStatus(_ context.Context, id booking.ReservationID, from, to booking.ReservationStatus, reason string) (bool, error) {
	return v.m.casReservationLocked(id, from, to, reason), nil
}

func (v *txView) ListPendingCreatedBefore(_ context.Context, cutoff time.Time) ([]booking.Reservation, error) {
	var result []booking.Reservation
	for _, r := range v.m.reservations {
		if r.Status == booking.StatusPending && r.CreatedAt.Before(cutoff) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (v *txView) ListReservationsByCustomer(_ context.Context, id booking.CustomerID) ([]booking.Reservation, error) {
	var result []booking.Reservation
	for _, r := range v.m.reservations {
		if r.CustomerID == id {
			result = append(result, r)
		}
	}
	return result, nil
}

func (v *txView) ListReservationsByStatus(_ context.Context, status booking.ReservationStatus) ([]booking.Reservation, error) {
	var result []booking.Reservation
	for _, r := range v.m.reservations {
		if r.Status == status {
			result = append(result, r)
		}
	}
	return result, nil
}

func (v *txView) ListReservationsBetween(_ context.Context, from, to time.Time) ([]booking.Reservation, error) {
	var result []booking.Reservation
	for _, r := range v.m.reservations {
		if !r.Start.Before(from) && r.Start.Before(to) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (v *txView) WithTx(_ context.Context, fn func(booking.Store) error) error {
	return fn(v)
}

func sortByStart(rs []booking.Reservation) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start.Before(rs[j].Start) })
}

// =============================================================================
// SERVICE CATALOG (booking.Catalog interface)
// =============================================================================

func (m *Memory) GetServiceItem(_ context.Context, id booking.ServiceID) (*booking.ServiceItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.services[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *Memory) ListServiceItems(_ context.Context, activeOnly bool) ([]booking.ServiceItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []booking.ServiceItem
	for _, item := range m.services {
		if activeOnly && !item.Active {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *Memory) SaveServiceItem(_ context.Context, item booking.ServiceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[item.ID] = item
	return nil
}

// =============================================================================
// CUSTOMER DIRECTORY (booking.CustomerDirectory interface)
// =============================================================================

func (m *Memory) CustomerByID(_ context.Context, id booking.CustomerID) (*booking.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) SaveCustomer(_ context.Context, c booking.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	return nil
}

// =============================================================================
// SCHEDULE STORE (schedule.Store interface)
// =============================================================================

func (m *Memory) UpsertWorkingHours(_ context.Context, wh schedule.WorkingHours) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh.UpdatedAt = time.Now().UTC()
	m.hours[wh.Weekday] = wh
	return nil
}

func (m *Memory) WorkingHoursFor(_ context.Context, day time.Weekday) (*schedule.WorkingHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wh, ok := m.hours[day]
	if !ok {
		return nil, nil
	}
	return &wh, nil
}

func (m *Memory) ListWorkingHours(_ context.Context) ([]schedule.WorkingHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hours []schedule.WorkingHours
	for _, wh := range m.hours {
		hours = append(hours, wh)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Weekday < hours[j].Weekday })
	return hours, nil
}

func (m *Memory) AddBlockedInterval(_ context.Context, b schedule.BlockedInterval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.ID] = b
	return nil
}

func (m *Memory) DeleteBlockedInterval(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, id)
	return nil
}

func (m *Memory) BlockedIntervalsOverlapping(_ context.Context, from, to time.Time) ([]schedule.BlockedInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []schedule.BlockedInterval
	for _, b := range m.blocks {
		if b.Start.Before(to) && from.Before(b.End) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start.Before(result[j].Start) })
	return result, nil
}

// =============================================================================
// PAYMENT STORE (payment.Store interface)
// =============================================================================

func (m *Memory) CreatePayment(_ context.Context, p payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.payments {
		if other.ReservationID == p.ReservationID && other.Status != payment.StatusFailed {
			return fmt.Errorf("reservation %s: %w", p.ReservationID, booking.ErrPaymentExists)
		}
	}
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id booking.PaymentID) (*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) PaymentBySession(_ context.Context, sessionID string) (*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.SessionID == sessionID {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *Memory) LatestPaymentByReservation(_ context.Context, id booking.ReservationID) (*payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *payment.Payment
	for _, p := range m.payments {
		if p.ReservationID != id {
			continue
		}
		p := p
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = &p
		}
	}
	return latest, nil
}

func (m *Memory) UpdatePaymentStatus(_ context.Context, id booking.PaymentID, from, to payment.Status, transactionID, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	if message != "" {
		p.Message = message
	}
	p.UpdatedAt = time.Now().UTC()
	m.payments[id] = p
	return true, nil
}

func (m *Memory) ListPaymentsByStatus(_ context.Context, status payment.Status) ([]payment.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payment.Payment
	for _, p := range m.payments {
		if p.Status == status {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// =============================================================================
// REFUND REQUEST STORE (refund.Store interface)
// =============================================================================

func (m *Memory) CreateRequest(_ context.Context, r refund.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.refunds {
		if other.ReservationID == r.ReservationID && other.Status == refund.StatusPending {
			return fmt.Errorf("reservation %s: %w", r.ReservationID, booking.ErrDuplicateRefundRequest)
		}
	}
	m.refunds[r.ID] = r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id string) (*refund.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.refunds[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) PendingRequestByReservation(_ context.Context, id booking.ReservationID) (*refund.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.refunds {
		if r.ReservationID == id && r.Status == refund.StatusPending {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateRequestStatus(_ context.Context, id string, from, to refund.Status, decidedBy, note string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.refunds[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	if decidedBy != "" {
		r.DecidedBy = decidedBy
	}
	if note != "" {
		r.DecisionNote = note
	}
	r.UpdatedAt = time.Now().UTC()
	m.refunds[id] = r
	return true, nil
}

func (m *Memory) ListRequestsByStatus(_ context.Context, status refund.Status) ([]refund.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []refund.Request
	for _, r := range m.refunds {
		if r.Status == status {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// =============================================================================
// AUDIT SINK + LOYALTY
// =============================================================================

func (m *Memory) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.auditLog = append(m.auditLog, e)
	return nil
}

// AuditTrail returns recorded entries for one entity, oldest first.
func (m *Memory) AuditTrail(entityType, entityID string) []audit.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []audit.Entry
	for _, e := range m.auditLog {
		if e.EntityType == entityType && e.EntityID == entityID {
			entries = append(entries, e)
		}
	}
	return entries
}

// Award credits points keyed by reference; duplicates are no-ops.
func (m *Memory) Award(_ context.Context, customerID booking.CustomerID, points int, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loyalty[reference]; ok {
		return nil
	}
	m.loyalty[reference] = loyaltyAward{customerID: customerID, points: points}
	return nil
}

// LoyaltyBalance returns a customer's accumulated points.
func (m *Memory) LoyaltyBalance(customerID booking.CustomerID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, a := range m.loyalty {
		if a.customerID == customerID {
			total += a.points
		}
	}
	return total
}
