/*
Package booking contains the core reservation engine: the reservation
state machine, the availability checker, and the unpaid-reservation
sweeper.

PURPOSE:
  One shop, one shared calendar. Every reservation competes for time on
  that calendar, and the engine guarantees that no two non-cancelled
  reservations ever overlap, that a reservation never stays PENDING
  forever, and that reservation state only moves through defined
  transitions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a decimal amount with a currency (no floats for prices)
  - ServiceItem: the bookable service (duration + price)
  - Reservation: the slot occupant, owned by the lifecycle service
  - Interval: a half-open [start, end) slot on the calendar

DESIGN PRINCIPLES:
  1. Ownership: Reservation status is mutated only through lifecycle
     operations, never by direct field assignment from other packages.
  2. Precision: decimal.Decimal for all amounts.
  3. Half-open intervals: end == other.start is never a conflict.

SEE ALSO:
  - statemachine.go: the closed transition table
  - availability.go: the read-only slot checker
  - service.go: lifecycle operations
*/
package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ReservationID string
type CustomerID string
type ServiceID string
type PaymentID string

// =============================================================================
// MONEY - Amount with currency
// =============================================================================

// Money is a monetary amount. Value is decimal to avoid float drift;
// Currency is an ISO 4217 code like "EUR".
type Money struct {
	Value    decimal.Decimal
	Currency string
}

func NewMoneyFromCents(cents int64, currency string) Money {
	return Money{Value: decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)), Currency: currency}
}

// Cents returns the amount in minor units, which is what payment
// providers consume.
func (m Money) Cents() int64 {
	return m.Value.Mul(decimal.NewFromInt(100)).IntPart()
}

func (m Money) IsZero() bool   { return m.Value.IsZero() }
func (m Money) String() string { return m.Value.StringFixed(2) + " " + m.Currency }

// =============================================================================
// SERVICE ITEM - The bookable service catalog entry
// =============================================================================

// ServiceItem describes one bookable service: how long it occupies the
// calendar and what it costs. Duration must be positive for the item
// to be bookable.
type ServiceItem struct {
	ID            ServiceID
	Name          string
	Duration      time.Duration
	Price         Money
	LoyaltyPoints int
	Active        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// CUSTOMER - Read-only identity reference
// =============================================================================

// Customer is the read-only view of a customer the engine needs for
// notifications. The engine never mutates customer records.
type Customer struct {
	ID    CustomerID
	Name  string
	Email string
}

// =============================================================================
// RESERVATION - The slot occupant
// =============================================================================

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "PENDING"
	StatusConfirmed ReservationStatus = "CONFIRMED"
	StatusCancelled ReservationStatus = "CANCELLED"
	StatusCompleted ReservationStatus = "COMPLETED"
)

// Terminal reports whether no further transition is possible.
func (s ReservationStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// OccupiesSlot reports whether a reservation in this status blocks the
// calendar. Only cancelled reservations release their slot.
func (s ReservationStatus) OccupiesSlot() bool {
	return s != StatusCancelled
}

// Reservation occupies [Start, Start+Service.Duration) on the shared
// calendar. End time is computed, never stored. Status is owned by the
// lifecycle service; Version backs the optimistic status CAS at the
// store layer.
type Reservation struct {
	ID         ReservationID
	CustomerID CustomerID
	ServiceID  ServiceID
	Service    ServiceItem
	Start      time.Time
	Status     ReservationStatus

	CancelReason string
	Version      int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// End returns the exclusive end of the occupied slot.
func (r Reservation) End() time.Time {
	return r.Start.Add(r.Service.Duration)
}

// Interval returns the reservation's half-open slot.
func (r Reservation) Interval() Interval {
	return Interval{Start: r.Start, End: r.End()}
}

// =============================================================================
// INTERVAL - Half-open [Start, End)
// =============================================================================

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps implements the half-open overlap test: two intervals conflict
// iff a.Start < b.End && b.Start < a.End. Touching at a boundary
// (a.End == b.Start) is not a conflict.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func (a Interval) Duration() time.Duration { return a.End.Sub(a.Start) }
