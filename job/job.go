// Package job defines the mail job model shared by the store, the
// dispatcher, and the submission boundary.
package job

import (
	"time"

	"github.com/odiseohq/mailqd/errors"
)

// Status is the delivery lifecycle state of a job. A job is in exactly one
// state at a time and the transition graph is closed: nothing re-enters
// Pending.
type Status string

const (
	// StatusPending is waiting in queue for a first delivery attempt.
	StatusPending Status = "pending"
	// StatusScheduled is waiting for next_retry_at / scheduled_for to arrive.
	StatusScheduled Status = "scheduled"
	// StatusProcessing is claimed by exactly one worker.
	StatusProcessing Status = "processing"
	// StatusSent was delivered to the transport. Terminal.
	StatusSent Status = "sent"
	// StatusFailed exhausted its retry budget or hit a permanent error. Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is inert.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Statuses lists every lifecycle state, in queue-report order.
func Statuses() []Status {
	return []Status{StatusPending, StatusScheduled, StatusProcessing, StatusSent, StatusFailed}
}

// Type categorizes the mail carried by a job. Opaque to the core; the
// submission boundary maps template ids onto it.
type Type string

const (
	TypeTransactional      Type = "transactional"
	TypeBookingCreated     Type = "booking_created"
	TypeBookingCancelled   Type = "booking_cancelled"
	TypeBookingRescheduled Type = "booking_rescheduled"
	TypeReminder24h        Type = "reminder_24h"
	TypeReminder1h         Type = "reminder_1h"
	TypeOTPVerification    Type = "otp_verification"
)

// Priority bounds. Lower values are claimed sooner.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

// Retry budget bounds.
const (
	MaxRetriesMin     = 1
	MaxRetriesMax     = 10
	MaxRetriesDefault = 3
)

// Job is one unit of asynchronous delivery work: a single outbound
// message to a single recipient. Mutated only through the store's claim
// and mark operations after creation.
type Job struct {
	ID        int64  `json:"id"`
	MessageID string `json:"message_id"` // caller-supplied idempotency token
	Type      Type   `json:"type"`

	RecipientEmail string `json:"recipient_email"`
	RecipientName  string `json:"recipient_name,omitempty"`
	Subject        string `json:"subject"`
	BodyHTML       string `json:"body_html"`
	BodyText       string `json:"body_text,omitempty"`

	// TemplateContext is stored opaquely for the rendering collaborator;
	// the core never inspects it.
	TemplateContext map[string]any `json:"template_context,omitempty"`

	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	ScheduledFor time.Time  `json:"scheduled_for"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// New creates a pending job for one recipient with defaults applied.
func New(t Type, recipient, subject, bodyHTML string) *Job {
	now := time.Now().UTC()
	return &Job{
		Type:           t,
		RecipientEmail: recipient,
		Subject:        subject,
		BodyHTML:       bodyHTML,
		Status:         StatusPending,
		Priority:       PriorityDefault,
		MaxRetries:     MaxRetriesDefault,
		ScheduledFor:   now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks the invariants the store enforces on insert.
func (j *Job) Validate() error {
	if j.RecipientEmail == "" {
		return errors.ErrNoRecipients
	}
	if j.Priority < PriorityHighest || j.Priority > PriorityLowest {
		return errors.NewConfigError("priority",
			errors.ErrInvalidConfig)
	}
	if j.MaxRetries < MaxRetriesMin || j.MaxRetries > MaxRetriesMax {
		return errors.NewConfigError("max_retries",
			errors.ErrInvalidConfig)
	}
	if j.RetryCount < 0 || j.RetryCount > j.MaxRetries {
		return errors.NewConfigError("retry_count",
			errors.ErrInvalidConfig)
	}
	return nil
}

// Eligible reports whether the job may be claimed at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	if j.Status != StatusPending && j.Status != StatusScheduled {
		return false
	}
	return !j.ScheduledFor.After(now)
}

// Clone returns a deep copy so callers can mutate without racing the store.
func (j *Job) Clone() *Job {
	cp := *j
	if j.TemplateContext != nil {
		cp.TemplateContext = make(map[string]any, len(j.TemplateContext))
		for k, v := range j.TemplateContext {
			cp.TemplateContext[k] = v
		}
	}
	if j.NextRetryAt != nil {
		t := *j.NextRetryAt
		cp.NextRetryAt = &t
	}
	if j.SentAt != nil {
		t := *j.SentAt
		cp.SentAt = &t
	}
	return &cp
}
