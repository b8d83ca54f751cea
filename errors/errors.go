// Package errors provides error types and utilities for the mailqd library.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common conditions
var (
	ErrJobNotFound   = errors.New("job not found")
	ErrNoRecipients  = errors.New("recipient set cannot be empty")
	ErrNotConnected  = errors.New("not connected")
	ErrStoreClosed   = errors.New("store is closed")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrShutdown      = errors.New("shutting down")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// QueueError represents job store failures. JobID is zero when the
// affected job is unknown (e.g. a failed claim).
type QueueError struct {
	Op    string // operation being performed
	JobID int64  // affected job id, if known
	Err   error  // underlying error
}

func (e *QueueError) Error() string {
	if e.JobID != 0 {
		return fmt.Sprintf("store %s on job #%d: %v", e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// TransportError represents delivery failures. Transient reports whether a
// retry may succeed; it is the sole input the dispatcher uses to decide
// between the retry policy and an outright failure.
type TransportError struct {
	Recipient string // recipient address (if applicable)
	Transient bool   // whether a retry may succeed
	Err       error  // underlying error
}

func (e *TransportError) Error() string {
	if e.Recipient != "" {
		return fmt.Sprintf("transport send to %s: %v", e.Recipient, e.Err)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.Transient
}

// ConfigError represents configuration validation errors
type ConfigError struct {
	Field string // configuration field
	Err   error  // underlying error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ConnectionError represents connection-related errors
type ConnectionError struct {
	URI string // connection URI (may be redacted)
	Err error  // underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.URI, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RateLimitError is the admission rejection outcome. It is a normal,
// expected signal rather than a delivery or store failure; it carries the
// wait hint until the tightest violated window frees a slot.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// Helper functions for creating errors

// NewQueueError creates a new queue error
func NewQueueError(op string, jobID int64, err error) error {
	return &QueueError{Op: op, JobID: jobID, Err: err}
}

// NewTransportError creates a new transport error
func NewTransportError(recipient string, transient bool, err error) error {
	return &TransportError{Recipient: recipient, Transient: transient, Err: err}
}

// NewConfigError creates a new config error
func NewConfigError(field string, err error) error {
	return &ConfigError{Field: field, Err: err}
}

// NewConnectionError creates a new connection error
func NewConnectionError(uri string, err error) error {
	return &ConnectionError{URI: uri, Err: err}
}

// NewRateLimitError creates a new rate limit rejection
func NewRateLimitError(retryAfter time.Duration) error {
	return &RateLimitError{RetryAfter: retryAfter}
}

// IsTransient checks whether a delivery error is worth retrying.
// Non-transport errors are treated as transient: the cause is unknown,
// and at-least-once delivery prefers a wasted attempt over a lost message.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Transient
	}
	return true
}

// IsValidation checks whether an error came from job validation rather
// than a backend failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrNoRecipients)
}

// IsNotFound checks if an error is a missing-job condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsRateLimited checks if an error is an admission rejection
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// RetryAfter extracts the wait hint from an admission rejection,
// or zero when the error is not a rate limit rejection.
func RetryAfter(err error) time.Duration {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
