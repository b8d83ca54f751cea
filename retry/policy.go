// Package retry computes backoff and terminal-failure decisions for failed
// deliveries. The policy is a pure function of its inputs; it performs no
// I/O and holds no state, so it is safe for concurrent use.
package retry

import (
	"time"

	"github.com/odiseohq/mailqd/errors"
	"github.com/odiseohq/mailqd/job"
)

// Default policy parameters.
const (
	DefaultBaseBackoff = 300 * time.Second
	MinBaseBackoff     = 60 * time.Second
	MaxBaseBackoff     = 24 * time.Hour
)

// Outcome is the decision kind.
type Outcome int

const (
	// OutcomeRetry schedules another attempt.
	OutcomeRetry Outcome = iota
	// OutcomeFail marks the job permanently failed.
	OutcomeFail
)

// Decision is the result of evaluating a failed delivery attempt.
type Decision struct {
	Outcome     Outcome
	NextRetryAt time.Time // valid when Outcome == OutcomeRetry
	RetryCount  int       // the retry count to record alongside the transition
}

// Policy decides between retrying with exponential backoff and terminal
// failure. The backoff doubles each attempt: base * 2^retry_count. No
// jitter is applied; callers that need thundering-herd avoidance must
// layer it externally.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// NewPolicy creates a policy, clamping parameters into their valid ranges.
func NewPolicy(maxRetries int, baseBackoff time.Duration) Policy {
	if maxRetries < job.MaxRetriesMin {
		maxRetries = job.MaxRetriesMin
	}
	if maxRetries > job.MaxRetriesMax {
		maxRetries = job.MaxRetriesMax
	}
	if baseBackoff < MinBaseBackoff {
		baseBackoff = MinBaseBackoff
	}
	if baseBackoff > MaxBaseBackoff {
		baseBackoff = MaxBaseBackoff
	}
	return Policy{MaxRetries: maxRetries, BaseBackoff: baseBackoff}
}

// DefaultPolicy returns the policy used when nothing is configured:
// 3 retries with a 300s base.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: job.MaxRetriesDefault, BaseBackoff: DefaultBaseBackoff}
}

// Decide evaluates a failed attempt. Permanent errors fail outright,
// bypassing the remaining retry budget; transient errors retry while
// retryCount < MaxRetries and fail once the budget is spent.
// now is passed in so the function stays pure.
func (p Policy) Decide(retryCount int, err error, now time.Time) Decision {
	if !errors.IsTransient(err) {
		return Decision{Outcome: OutcomeFail, RetryCount: retryCount}
	}
	if retryCount >= p.MaxRetries {
		return Decision{Outcome: OutcomeFail, RetryCount: retryCount}
	}
	return Decision{
		Outcome:     OutcomeRetry,
		NextRetryAt: now.Add(p.Backoff(retryCount)),
		RetryCount:  retryCount + 1,
	}
}

// Backoff returns base * 2^retryCount.
func (p Policy) Backoff(retryCount int) time.Duration {
	return p.BaseBackoff << uint(retryCount)
}
