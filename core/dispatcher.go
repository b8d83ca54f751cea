package core

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/odiseohq/mailqd/errors"
	"github.com/odiseohq/mailqd/events"
	"github.com/odiseohq/mailqd/job"
	"github.com/odiseohq/mailqd/retry"
	"github.com/odiseohq/mailqd/stats"
	"github.com/odiseohq/mailqd/store"
	"github.com/odiseohq/mailqd/transport"
)

// Dispatcher drives the delivery loop: it claims batches of due jobs
// from the store, fans them out to a bounded pool of concurrent sends,
// and records each outcome back through the retry policy.
type Dispatcher struct {
	store     store.Store
	transport transport.Transport
	policy    retry.Policy
	config    *Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    chan struct{}

	attempted         atomic.Int64
	sent              atomic.Int64
	retryScheduled    atomic.Int64
	permanentlyFailed atomic.Int64
}

// Counters is a snapshot of the dispatcher's lifetime delivery counters.
// RetryScheduled and PermanentlyFailed are distinct: a job that retries
// twice and then succeeds contributes two to RetryScheduled and none to
// PermanentlyFailed.
type Counters struct {
	Attempted         int64
	Sent              int64
	RetryScheduled    int64
	PermanentlyFailed int64
}

// HealthStatus reports dispatcher component health
type HealthStatus struct {
	Healthy         bool
	StoreHealth     error
	TransportHealth error
	QueueDepth      store.StatusCounts
	LastCheck       time.Time
}

// NewDispatcher creates a new dispatcher with dependency injection
func NewDispatcher(
	s store.Store,
	t transport.Transport,
	policy retry.Policy,
	options ...DispatcherOption,
) *Dispatcher {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}

	return &Dispatcher{
		store:     s,
		transport: t,
		policy:    policy,
		config:    config,
		sem:       make(chan struct{}, config.Concurrency),
	}
}

// Start begins the poll loop
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	if err := d.store.Health(d.ctx); err != nil {
		return errors.NewConnectionError("store", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollLoop(d.ctx)
	}()

	slog.Info("Dispatcher started",
		"batch_size", d.config.BatchSize,
		"concurrency", d.config.Concurrency,
		"poll_interval", d.config.PollInterval)
	return nil
}

// Stop gracefully shuts down the dispatcher. In-flight deliveries get
// up to ShutdownTimeout to complete; the transport is closed before the
// store so late outcome marks still land.
func (d *Dispatcher) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Dispatcher stopped gracefully")
	case <-time.After(d.config.ShutdownTimeout):
		slog.Warn("Dispatcher shutdown timeout exceeded")
	}

	if err := d.transport.Close(); err != nil {
		slog.Error("Error closing transport", "error", err)
	}

	if d.config.Publisher != nil {
		if err := d.config.Publisher.Close(); err != nil {
			slog.Error("Error closing event publisher", "error", err)
		}
	}

	if err := d.store.Close(); err != nil {
		slog.Error("Error closing store", "error", err)
	}

	c := d.Counters()
	slog.Info("Delivery statistics",
		"attempted", c.Attempted,
		"sent", c.Sent,
		"retries_scheduled", c.RetryScheduled,
		"permanently_failed", c.PermanentlyFailed)

	return nil
}

// Run starts the dispatcher and blocks until shutdown signals are received.
// This is a convenience method that combines Start() + signal handling + Stop()
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	}

	return d.Stop()
}

// Health returns the current health status
func (d *Dispatcher) Health(ctx context.Context) HealthStatus {
	storeHealth := d.store.Health(ctx)
	transportHealth := d.transport.Health()

	var depth store.StatusCounts
	if storeHealth == nil {
		if counts, err := d.store.Stats(ctx); err == nil {
			depth = counts
		}
	}

	return HealthStatus{
		Healthy:         storeHealth == nil && transportHealth == nil,
		StoreHealth:     storeHealth,
		TransportHealth: transportHealth,
		QueueDepth:      depth,
		LastCheck:       time.Now(),
	}
}

// Counters returns a snapshot of lifetime delivery counters
func (d *Dispatcher) Counters() Counters {
	return Counters{
		Attempted:         d.attempted.Load(),
		Sent:              d.sent.Load(),
		RetryScheduled:    d.retryScheduled.Load(),
		PermanentlyFailed: d.permanentlyFailed.Load(),
	}
}

// ProcessOnce runs a single claim-and-deliver cycle and returns the
// number of jobs attempted. Used by the manual trigger endpoint.
func (d *Dispatcher) ProcessOnce(ctx context.Context, limit int) (int, error) {
	jobs, err := d.store.ClaimBatch(ctx, limit)
	if err != nil {
		return 0, err
	}
	d.processBatch(ctx, jobs)
	return len(jobs), nil
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobs, err := d.store.ClaimBatch(ctx, d.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to claim batch", "error", err)
			d.sleep(ctx)
			continue
		}

		if len(jobs) == 0 {
			d.sleep(ctx)
			continue
		}

		slog.Debug("Claimed batch", "count", len(jobs))
		d.processBatch(ctx, jobs)
	}
}

// sleep waits one poll interval, returning early on cancellation
func (d *Dispatcher) sleep(ctx context.Context) {
	timer := time.NewTimer(d.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processBatch delivers jobs through the bounded semaphore and waits
// for the whole batch to finish before the next claim.
func (d *Dispatcher) processBatch(ctx context.Context, jobs []*job.Job) {
	var batch sync.WaitGroup
	for _, j := range jobs {
		d.sem <- struct{}{}
		batch.Add(1)
		d.wg.Add(1)
		go func(j *job.Job) {
			defer func() {
				<-d.sem
				batch.Done()
				d.wg.Done()
			}()
			d.deliver(ctx, j)
		}(j)
	}
	batch.Wait()
}

// deliver attempts one job and records the outcome. Marks run on a
// context detached from cancellation so a send that completes during
// shutdown still gets its terminal state persisted.
func (d *Dispatcher) deliver(ctx context.Context, j *job.Job) {
	d.attempted.Add(1)
	d.record(func(r stats.Recorder) { r.RecordAttempt() })

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.SendTimeout)
	defer cancel()

	msg := &transport.Message{
		To:      j.RecipientEmail,
		ToName:  j.RecipientName,
		Subject: j.Subject,
		HTML:    j.BodyHTML,
		Text:    j.BodyText,
	}

	err := d.transport.Send(sendCtx, msg)
	now := time.Now().UTC()
	markCtx := context.WithoutCancel(ctx)

	if err == nil {
		if markErr := d.store.MarkSent(markCtx, j.ID, now); markErr != nil {
			slog.Error("Failed to mark job sent", "job_id", j.ID, "error", markErr)
		}
		d.sent.Add(1)
		d.record(func(r stats.Recorder) { r.RecordSent() })
		slog.Info("Email sent", "job_id", j.ID, "recipient", j.RecipientEmail)
		d.publish(markCtx, j, events.OutcomeSent, 0, "")
		return
	}

	policy := d.policy
	policy.MaxRetries = j.MaxRetries
	decision := policy.Decide(j.RetryCount, err, now)

	switch decision.Outcome {
	case retry.OutcomeRetry:
		if markErr := d.store.MarkScheduled(markCtx, j.ID, err.Error(), decision.NextRetryAt, decision.RetryCount); markErr != nil {
			slog.Error("Failed to schedule retry", "job_id", j.ID, "error", markErr)
		}
		d.retryScheduled.Add(1)
		d.record(func(r stats.Recorder) { r.RecordRetryScheduled() })
		slog.Warn("Delivery failed, retry scheduled",
			"job_id", j.ID,
			"recipient", j.RecipientEmail,
			"retry_count", decision.RetryCount,
			"next_retry_at", decision.NextRetryAt,
			"error", err)
		d.publish(markCtx, j, events.OutcomeRetryScheduled, decision.RetryCount, err.Error())
	case retry.OutcomeFail:
		if markErr := d.store.MarkFailed(markCtx, j.ID, err.Error()); markErr != nil {
			slog.Error("Failed to mark job failed", "job_id", j.ID, "error", markErr)
		}
		d.permanentlyFailed.Add(1)
		d.record(func(r stats.Recorder) { r.RecordFailed() })
		slog.Error("Delivery permanently failed",
			"job_id", j.ID,
			"recipient", j.RecipientEmail,
			"retry_count", j.RetryCount,
			"error", err)
		d.publish(markCtx, j, events.OutcomeFailed, j.RetryCount, err.Error())
	}
}

func (d *Dispatcher) record(fn func(stats.Recorder)) {
	if d.config.Recorder != nil {
		fn(d.config.Recorder)
	}
}

func (d *Dispatcher) publish(ctx context.Context, j *job.Job, outcome events.Outcome, retryCount int, errMsg string) {
	if d.config.Publisher == nil {
		return
	}
	ev := events.Event{
		JobID:      j.ID,
		MessageID:  j.MessageID,
		Recipient:  j.RecipientEmail,
		Outcome:    outcome,
		RetryCount: retryCount,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	}
	if err := d.config.Publisher.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish delivery event", "job_id", j.ID, "error", err)
	}
}
