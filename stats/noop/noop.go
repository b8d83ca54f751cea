// Package noop provides a Recorder that discards every outcome. The
// dispatcher still keeps its own lifetime counters; this backend is for
// deployments that do not scrape metrics.
package noop

import "github.com/odiseohq/mailqd/stats"

// Recorder discards all outcomes.
type Recorder struct{}

// New creates a no-op recorder.
func New() *Recorder {
	return &Recorder{}
}

var _ stats.Recorder = (*Recorder)(nil)

func (*Recorder) RecordAttempt()        {}
func (*Recorder) RecordSent()           {}
func (*Recorder) RecordRetryScheduled() {}
func (*Recorder) RecordFailed()         {}
