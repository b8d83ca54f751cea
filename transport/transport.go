// Package transport defines the delivery contract the dispatcher invokes.
// Implementations report failures as errors.TransportError so the
// dispatcher can classify them as transient or permanent.
package transport

import "context"

// Message is one outbound mail, already rendered.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// Transport delivers messages to the outside world.
type Transport interface {
	// Send delivers one message, honoring ctx for cancellation and
	// deadlines. Failures are errors.TransportError values whose Transient
	// flag drives the dispatcher's retry decision.
	Send(ctx context.Context, msg *Message) error

	// Health reports whether the transport is usable.
	Health() error

	// Close releases the transport's resources.
	Close() error
}
