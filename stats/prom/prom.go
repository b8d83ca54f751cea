// Package prom exposes dispatcher outcome counters as Prometheus metrics.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odiseohq/mailqd/stats"
)

// Recorder mirrors dispatcher outcomes onto Prometheus counters.
type Recorder struct {
	attempts prometheus.Counter
	sent     prometheus.Counter
	retries  prometheus.Counter
	failed   prometheus.Counter
	registry *prometheus.Registry
}

var _ stats.Recorder = (*Recorder)(nil)

// New creates a recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailqd_delivery_attempts_total",
			Help: "Total number of delivery attempts handed to the transport",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailqd_delivery_sent_total",
			Help: "Total number of successful deliveries",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailqd_delivery_retries_scheduled_total",
			Help: "Total number of transient failures scheduled for retry",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailqd_delivery_failed_total",
			Help: "Total number of permanently failed deliveries",
		}),
		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(r.attempts, r.sent, r.retries, r.failed)
	return r
}

func (r *Recorder) RecordAttempt()        { r.attempts.Inc() }
func (r *Recorder) RecordSent()           { r.sent.Inc() }
func (r *Recorder) RecordRetryScheduled() { r.retries.Inc() }
func (r *Recorder) RecordFailed()         { r.failed.Inc() }

// Handler returns the scrape endpoint for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
