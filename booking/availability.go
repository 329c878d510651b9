/*
availability.go - Read-only slot availability checker

PURPOSE:
  Given a candidate start time and a service duration, decide whether
  the resulting interval may be booked, and if not, why. Pure function
  over (working hours, blocked intervals, existing reservations); no
  side effects, safe to call repeatedly and concurrently.

ALGORITHM:
  1. Candidate interval is [start, start+duration).
  2. OUTSIDE_HOURS if the weekday is closed, has no entry, or the
     interval does not fit fully inside [open, close) of the start's
     calendar day. A booking spanning midnight never fits, so it is
     rejected here too.
  3. BLOCKED if the interval intersects any blocked interval.
  4. SLOT_CONFLICT if it intersects any PENDING/CONFIRMED/COMPLETED
     reservation.

  All overlap tests are half-open: end == other.start is NOT a conflict.

NOTE ON ATOMICITY:
  This check alone cannot close the concurrent-create race. The store's
  transactional overlap re-count on insert is the authoritative slot
  check; see service.go and store/sqlite.
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/booking-engine/schedule"
)

// =============================================================================
// RESULT TYPE
// =============================================================================

// ConflictReason discriminates why a slot is unavailable, for
// user-facing messaging.
type ConflictReason string

const (
	ConflictNone         ConflictReason = ""
	ConflictOutsideHours ConflictReason = "OUTSIDE_HOURS"
	ConflictBlocked      ConflictReason = "BLOCKED"
	ConflictSlotTaken    ConflictReason = "SLOT_CONFLICT"
)

// Availability is the checker's verdict.
type Availability struct {
	Available bool
	Conflict  ConflictReason
}

func available() Availability { return Availability{Available: true} }

func unavailable(r ConflictReason) Availability {
	return Availability{Available: false, Conflict: r}
}

// =============================================================================
// CHECKER
// =============================================================================

// Checker evaluates candidate intervals against the calendar rules and
// the existing reservation set. Read-only.
type Checker struct {
	Rules        schedule.Store
	Reservations Store

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewChecker(rules schedule.Store, reservations Store) *Checker {
	return &Checker{Rules: rules, Reservations: reservations, Now: time.Now}
}

// IsAvailable reports whether [start, start+duration) can be booked.
// Start must be strictly in the future and duration positive; anything
// else is ErrInvalidInput, rejected before any rule is consulted.
func (c *Checker) IsAvailable(ctx context.Context, start time.Time, duration time.Duration) (Availability, error) {
	if duration <= 0 {
		return Availability{}, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if !start.After(now()) {
		return Availability{}, fmt.Errorf("%w: start must be in the future", ErrInvalidInput)
	}

	candidate := Interval{Start: start, End: start.Add(duration)}

	ok, err := c.withinWorkingHours(ctx, candidate)
	if err != nil {
		return Availability{}, err
	}
	if !ok {
		return unavailable(ConflictOutsideHours), nil
	}

	blocks, err := c.Rules.BlockedIntervalsOverlapping(ctx, candidate.Start, candidate.End)
	if err != nil {
		return Availability{}, fmt.Errorf("loading blocked intervals: %w", err)
	}
	for _, b := range blocks {
		if candidate.Overlaps(Interval{Start: b.Start, End: b.End}) {
			return unavailable(ConflictBlocked), nil
		}
	}

	existing, err := c.Reservations.ListOverlapping(ctx, candidate.Start, candidate.End)
	if err != nil {
		return Availability{}, fmt.Errorf("loading reservations: %w", err)
	}
	for _, r := range existing {
		if r.Status.OccupiesSlot() && candidate.Overlaps(r.Interval()) {
			return unavailable(ConflictSlotTaken), nil
		}
	}

	return available(), nil
}

// withinWorkingHours checks that the candidate fits fully inside the
// open window of its start day. Spanning midnight means the end falls
// outside that day's window, so it fails here without a special case.
func (c *Checker) withinWorkingHours(ctx context.Context, candidate Interval) (bool, error) {
	wh, err := c.Rules.WorkingHoursFor(ctx, candidate.Start.Weekday())
	if err != nil {
		return false, fmt.Errorf("loading working hours: %w", err)
	}
	if wh == nil || wh.Closed {
		return false, nil
	}

	open := wh.Open.At(candidate.Start)
	close := wh.Close.At(candidate.Start)

	if candidate.Start.Before(open) {
		return false, nil
	}
	if candidate.End.After(close) {
		return false, nil
	}
	return true, nil
}
