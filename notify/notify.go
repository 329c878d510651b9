/*
Package notify is the outbound notification boundary.

PURPOSE:
  The engine dispatches fire-and-forget messages after a state
  transition commits. Delivery failures are logged and never block or
  roll back a lifecycle transition; the Sender contract reflects that.

SEE ALSO:
  - mailjet.go: email-backed sender
*/
package notify

import (
	"context"
	"log"
)

// Kind discriminates the message templates the engine emits.
type Kind string

const (
	KindBookingConfirmed Kind = "booking_confirmed"
	KindBookingCancelled Kind = "booking_cancelled"
	KindPaymentSucceeded Kind = "payment_succeeded"
	KindPaymentFailed    Kind = "payment_failed"
	KindRefundApproved   Kind = "refund_approved"
	KindRefundRejected   Kind = "refund_rejected"
	KindRefundExecuted   Kind = "refund_executed"
)

// Recipient is the minimal contact information a sender needs.
type Recipient struct {
	Name  string
	Email string
}

// Sender delivers a notification. Implementations must be safe for
// concurrent use. Errors are for logging only: callers never act on
// them beyond recording the failure.
type Sender interface {
	Send(ctx context.Context, kind Kind, to Recipient, data map[string]string) error
}

// =============================================================================
// LOG SENDER - Default no-delivery implementation
// =============================================================================

// LogSender writes notifications to the process log. Used in dev and as
// a fallback when no email credentials are configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, kind Kind, to Recipient, data map[string]string) error {
	log.Printf("[Notify] %s -> %s <%s> %v", kind, to.Name, to.Email, data)
	return nil
}

// Dispatch sends in a goroutine and logs failures. This is the single
// fire-and-forget path the lifecycle services use after a transition
// commits.
func Dispatch(s Sender, kind Kind, to Recipient, data map[string]string) {
	if s == nil {
		return
	}
	go func() {
		if err := s.Send(context.Background(), kind, to, data); err != nil {
			log.Printf("[Notify] send %s to %s failed: %v", kind, to.Email, err)
		}
	}()
}
