/*
Package schedule holds the calendar rules the shop books against.

PURPOSE:
  Two kinds of rules constrain when a reservation may start:
  - WorkingHours: one open/close window (or closed) per weekday
  - BlockedInterval: ad-hoc blocks for maintenance, holidays, events

  Both are pure data with validation. They carry no dynamic behavior;
  the availability checker in the booking package reads them.

CONSISTENCY:
  Rules are read-mostly. Administrators change them rarely, so reads
  are plain snapshot reads without locking. A stale read window of a
  few seconds is acceptable for availability checks.

SEE ALSO:
  - booking/availability.go: the only consumer of these rules
  - store/sqlite: persistence
*/
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// TIME OF DAY - Wall-clock minutes, independent of date
// =============================================================================

// TimeOfDay is a wall-clock time within a day, stored as minutes since
// midnight. Serialized as "15:04".
type TimeOfDay struct {
	Minutes int
}

// ParseTimeOfDay parses "HH:MM" into a TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Minutes: t.Hour()*60 + t.Minute()}, nil
}

// At anchors the time of day onto a calendar date, keeping the date's location.
func (t TimeOfDay) At(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Minutes/60, t.Minutes%60, 0, 0, date.Location())
}

func (t TimeOfDay) Before(other TimeOfDay) bool { return t.Minutes < other.Minutes }
func (t TimeOfDay) After(other TimeOfDay) bool  { return t.Minutes > other.Minutes }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Minutes/60, t.Minutes%60)
}

// =============================================================================
// WORKING HOURS - One entry per weekday
// =============================================================================

// WorkingHours is the open window for a single weekday. Exactly one entry
// exists per weekday (upsert semantics); entries are replaced, never deleted.
type WorkingHours struct {
	Weekday time.Weekday
	Open    TimeOfDay
	Close   TimeOfDay
	Closed  bool

	UpdatedAt time.Time
}

var (
	// ErrInvalidWindow is returned when close is not strictly after open.
	ErrInvalidWindow = errors.New("close time must be strictly after open time")
)

// Validate checks the open/close invariant. Closed days tolerate zero times.
func (wh WorkingHours) Validate() error {
	if wh.Closed {
		return nil
	}
	if !wh.Open.Before(wh.Close) {
		return fmt.Errorf("%s: %w", wh.Weekday, ErrInvalidWindow)
	}
	return nil
}

// =============================================================================
// BLOCKED INTERVAL - Ad-hoc unavailability
// =============================================================================

// BlockedInterval marks a half-open window [Start, End) during which no
// reservation may take place, regardless of working hours.
type BlockedInterval struct {
	ID        string
	Start     time.Time
	End       time.Time
	Reason    string
	CreatedBy string
	CreatedAt time.Time
}

// ErrInvalidInterval is returned when end is not after start.
var ErrInvalidInterval = errors.New("blocked interval end must be after start")

func (b BlockedInterval) Validate() error {
	if !b.End.After(b.Start) {
		return ErrInvalidInterval
	}
	return nil
}

// =============================================================================
// STORE - Persistence interface
// =============================================================================

// Store persists calendar rules. Implemented by store/sqlite and store/memory.
type Store interface {
	// UpsertWorkingHours replaces the entry for the weekday.
	UpsertWorkingHours(ctx context.Context, wh WorkingHours) error

	// WorkingHoursFor returns the entry for a weekday, or nil if none is
	// configured. A missing entry is treated as closed by the checker.
	WorkingHoursFor(ctx context.Context, day time.Weekday) (*WorkingHours, error)

	// ListWorkingHours returns all configured entries ordered by weekday.
	ListWorkingHours(ctx context.Context) ([]WorkingHours, error)

	// AddBlockedInterval persists a new block. The interval must validate.
	AddBlockedInterval(ctx context.Context, b BlockedInterval) error

	// DeleteBlockedInterval removes a block by id.
	DeleteBlockedInterval(ctx context.Context, id string) error

	// BlockedIntervalsOverlapping returns blocks intersecting [from, to)
	// using half-open overlap semantics.
	BlockedIntervalsOverlapping(ctx context.Context, from, to time.Time) ([]BlockedInterval, error)
}
