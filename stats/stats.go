// Package stats defines the dispatcher's outcome recorder. Retry-scheduled
// and permanently-failed are distinct outcomes; conflating them
// misrepresents system health.
package stats

// Recorder receives delivery outcomes as they resolve.
type Recorder interface {
	// RecordAttempt counts one delivery attempt handed to the transport.
	RecordAttempt()
	// RecordSent counts one successful delivery.
	RecordSent()
	// RecordRetryScheduled counts one transient failure placed back on the
	// queue with a backoff.
	RecordRetryScheduled()
	// RecordFailed counts one permanent failure.
	RecordFailed()
}
