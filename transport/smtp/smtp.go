// Package smtp delivers mail over SMTP using gomail, with transient vs.
// permanent classification of delivery failures.
package smtp

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/odiseohq/mailqd/errors"
	"github.com/odiseohq/mailqd/transport"
)

// Options for the SMTP transport.
type Options struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string

	// UseTLS enables STARTTLS on the connection.
	UseTLS bool
	// TLSSkipVerify disables certificate verification.
	TLSSkipVerify bool
	// Timeout bounds one delivery attempt end to end.
	Timeout time.Duration
}

// DefaultOptions returns default SMTP options.
func DefaultOptions() Options {
	return Options{
		Host:    "localhost",
		Port:    587,
		UseTLS:  true,
		Timeout: 30 * time.Second,
	}
}

// Transport implements transport.Transport over SMTP.
type Transport struct {
	dialer  *gomail.Dialer
	options Options
}

// New creates an SMTP transport.
func New(options Options) *Transport {
	if options.Timeout <= 0 {
		options.Timeout = 30 * time.Second
	}

	d := gomail.NewDialer(options.Host, options.Port, options.Username, options.Password)
	if options.TLSSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}

	return &Transport{dialer: d, options: options}
}

// Send delivers one message. The delivery runs in its own goroutine so the
// call honors ctx even though the underlying dialer does not take one.
func (t *Transport) Send(ctx context.Context, msg *transport.Message) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", t.options.FromEmail, t.options.FromName)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	ctx, cancel := context.WithTimeout(ctx, t.options.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		// The delivery goroutine is abandoned; its connection times out on
		// its own. Timeouts are transient.
		return errors.NewTransportError(msg.To, true,
			fmt.Errorf("send timed out: %w", ctx.Err()))
	case err := <-done:
		if err != nil {
			return errors.NewTransportError(msg.To, IsTransient(err), err)
		}
		return nil
	}
}

// Health checks that the SMTP server accepts a connection and
// authentication.
func (t *Transport) Health() error {
	conn, err := t.dialer.Dial()
	if err != nil {
		return errors.NewConnectionError(t.addr(), err)
	}
	return conn.Close()
}

// Close releases resources. DialAndSend opens and closes per delivery, so
// there is no persistent connection to tear down.
func (t *Transport) Close() error {
	return nil
}

func (t *Transport) addr() string {
	return fmt.Sprintf("%s:%d", t.options.Host, t.options.Port)
}

// IsTransient classifies an SMTP delivery error. Network failures,
// timeouts, and 4xx server replies are transient; 5xx replies (bad
// recipient, auth rejection, policy) are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var protoErr *textproto.Error
	if stderrors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporarily"),
		strings.Contains(msg, "too many"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "eof"):
		return true
	case strings.Contains(msg, "535"), // auth credentials rejected
		strings.Contains(msg, "550"), // mailbox unavailable
		strings.Contains(msg, "553"), // bad mailbox name
		strings.Contains(msg, "auth"):
		return false
	}

	// Unknown SMTP failures default to transient; at-least-once delivery
	// favors a wasted attempt over a lost message.
	return true
}
