// Package events defines the delivery-outcome event contract. Outcome
// events are advisory: downstream consumers (audit, analytics, alerting)
// subscribe to them, but the dispatcher never depends on publication
// succeeding.
package events

import (
	"context"
	"time"
)

// Outcome is the terminal resolution of one delivery attempt.
type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeFailed         Outcome = "failed"
)

// Event describes one resolved delivery attempt.
type Event struct {
	JobID      int64     `json:"job_id"`
	MessageID  string    `json:"message_id,omitempty"`
	Recipient  string    `json:"recipient"`
	Outcome    Outcome   `json:"outcome"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits delivery-outcome events.
type Publisher interface {
	// Publish emits one event. Failures are the publisher's problem to
	// log; callers treat publication as fire-and-forget.
	Publish(ctx context.Context, event Event) error

	// Close releases the publisher's resources.
	Close() error
}
