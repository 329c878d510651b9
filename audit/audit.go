/*
Package audit is the best-effort trace of every state transition.

PURPOSE:
  Each transition in the reservation, payment, and refund lifecycles is
  recorded with actor, action, and entity reference. Recording is
  non-blocking: a sink failure never affects the transition that
  triggered it.
*/
package audit

import (
	"context"
	"log"
	"time"
)

// Entry is a single audit record.
type Entry struct {
	ID         string
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]string
	At         time.Time
}

// Sink persists audit entries. Implementations must tolerate concurrent
// writers.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// LogSink writes entries to the process log.
type LogSink struct{}

func (LogSink) Record(_ context.Context, e Entry) error {
	log.Printf("[Audit] %s %s %s/%s %v", e.Actor, e.Action, e.EntityType, e.EntityID, e.Details)
	return nil
}

// Record dispatches to the sink in a goroutine, logging failures. The
// single best-effort path the lifecycle services use.
func Record(s Sink, actor, action, entityType, entityID string, details map[string]string) {
	if s == nil {
		return
	}
	e := Entry{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		At:         time.Now().UTC(),
	}
	go func() {
		if err := s.Record(context.Background(), e); err != nil {
			log.Printf("[Audit] record %s %s/%s failed: %v", action, entityType, entityID, err)
		}
	}()
}
