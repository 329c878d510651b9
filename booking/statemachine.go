/*
statemachine.go - The closed reservation state machine

PURPOSE:
  Reservation status changes only through this transition table. There
  are no ad-hoc setters: every mutation names the event that caused it,
  and illegal moves are rejected with a TransitionError instead of
  silently overwriting state.

STATES:
  PENDING ──payment success──▶ CONFIRMED ──staff completion──▶ COMPLETED
     │                             │
     ├──sweep / cancel──▶ CANCELLED ◀──cancel / approved refund──┘

  CANCELLED and COMPLETED are terminal.

EVENTS:
  Each event corresponds to exactly one trigger in the lifecycle
  service: payment outcome, customer/staff action, or sweeper timeout.
*/
package booking

// Event names the trigger of a reservation transition.
type Event string

const (
	EventPaymentSucceeded Event = "payment_succeeded" // PENDING -> CONFIRMED
	EventCancelled        Event = "cancelled"         // PENDING|CONFIRMED -> CANCELLED
	EventSweepTimeout     Event = "sweep_timeout"     // PENDING -> CANCELLED
	EventCompleted        Event = "completed"         // CONFIRMED -> COMPLETED
)

// transitions is the closed set of legal moves.
var transitions = map[ReservationStatus]map[Event]ReservationStatus{
	StatusPending: {
		EventPaymentSucceeded: StatusConfirmed,
		EventCancelled:        StatusCancelled,
		EventSweepTimeout:     StatusCancelled,
	},
	StatusConfirmed: {
		EventCancelled: StatusCancelled,
		EventCompleted: StatusCompleted,
	},
}

// Transition applies an event to a status. Illegal moves return a
// TransitionError; callers decide whether that is a hard failure or a
// logged no-op (races against the sweeper and payment callbacks are
// expected).
func Transition(id ReservationID, from ReservationStatus, event Event) (ReservationStatus, error) {
	if next, ok := transitions[from][event]; ok {
		return next, nil
	}
	return from, &TransitionError{ReservationID: id, From: from, Event: event}
}

// CanTransition reports whether the event is legal from the status.
func CanTransition(from ReservationStatus, event Event) bool {
	_, ok := transitions[from][event]
	return ok
}
