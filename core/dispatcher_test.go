package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odiseohq/mailqd/errors"
	"github.com/odiseohq/mailqd/events"
	"github.com/odiseohq/mailqd/job"
	"github.com/odiseohq/mailqd/retry"
	"github.com/odiseohq/mailqd/store/memory"
	"github.com/odiseohq/mailqd/transport"
)

// mockTransport fails the first failUntil sends, then succeeds.
type mockTransport struct {
	mu          sync.Mutex
	calls       int
	failUntil   int
	err         error
	delay       time.Duration
	inFlight    int
	maxInFlight int
	closed      bool
}

func (m *mockTransport) Send(ctx context.Context, msg *transport.Message) error {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if call <= m.failUntil {
		if m.err != nil {
			return m.err
		}
		return fmt.Errorf("connection refused")
	}
	return nil
}

func (m *mockTransport) Health() error { return nil }

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *mockPublisher) Publish(ctx context.Context, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) outcomes() []events.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Outcome, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Outcome
	}
	return out
}

func newTestJob(recipient string) *job.Job {
	return &job.Job{
		Type:           job.TypeTransactional,
		RecipientEmail: recipient,
		Subject:        "hello",
		BodyText:       "body",
	}
}

func enqueue(t *testing.T, s *memory.Store, j *job.Job) int64 {
	t.Helper()
	id, err := s.Enqueue(context.Background(), j)
	require.NoError(t, err)
	return id
}

func fastPolicy(maxRetries int) retry.Policy {
	return retry.Policy{MaxRetries: maxRetries, BaseBackoff: time.Millisecond}
}

func TestDispatcherDeliversJob(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{}
	d := NewDispatcher(s, tr, fastPolicy(3))

	id := enqueue(t, s, newTestJob("user@example.com"))

	n, err := d.ProcessOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)

	c := d.Counters()
	assert.Equal(t, int64(1), c.Attempted)
	assert.Equal(t, int64(1), c.Sent)
	assert.Equal(t, int64(0), c.RetryScheduled)
	assert.Equal(t, int64(0), c.PermanentlyFailed)
}

func TestDispatcherSchedulesRetryOnTransientFailure(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{failUntil: 1}
	d := NewDispatcher(s, tr, fastPolicy(3))

	id := enqueue(t, s, newTestJob("user@example.com"))

	_, err := d.ProcessOnce(context.Background(), 10)
	require.NoError(t, err)

	got, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.Contains(t, got.LastError, "connection refused")

	c := d.Counters()
	assert.Equal(t, int64(1), c.RetryScheduled)
	assert.Equal(t, int64(0), c.PermanentlyFailed)
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{failUntil: 2}
	d := NewDispatcher(s, tr, fastPolicy(3),
		WithPollInterval(5*time.Millisecond),
		WithShutdownTimeout(time.Second))

	id := enqueue(t, s, newTestJob("user@example.com"))

	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, func() bool {
		got, err := s.GetByID(context.Background(), id)
		return err == nil && got.Status == job.StatusSent
	}, 2*time.Second, 5*time.Millisecond)

	// Stop waits for in-flight deliveries, settling the counters.
	require.NoError(t, d.Stop())

	got, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, 3, tr.sendCount())

	c := d.Counters()
	assert.Equal(t, int64(3), c.Attempted)
	assert.Equal(t, int64(1), c.Sent)
	assert.Equal(t, int64(2), c.RetryScheduled)
	assert.Equal(t, int64(0), c.PermanentlyFailed)
}

func TestDispatcherFailsAfterRetryBudgetExhausted(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{failUntil: 100}
	d := NewDispatcher(s, tr, fastPolicy(3),
		WithPollInterval(5*time.Millisecond),
		WithShutdownTimeout(time.Second))

	id := enqueue(t, s, newTestJob("user@example.com"))

	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, func() bool {
		got, err := s.GetByID(context.Background(), id)
		return err == nil && got.Status == job.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop())

	got, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RetryCount)

	// Initial attempt plus three retries.
	assert.Equal(t, 4, tr.sendCount())

	c := d.Counters()
	assert.Equal(t, int64(4), c.Attempted)
	assert.Equal(t, int64(3), c.RetryScheduled)
	assert.Equal(t, int64(1), c.PermanentlyFailed)
}

func TestDispatcherPermanentErrorBypassesRetries(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{
		failUntil: 100,
		err:       errors.NewTransportError("user@example.com", false, fmt.Errorf("550 mailbox does not exist")),
	}
	d := NewDispatcher(s, tr, fastPolicy(3))

	id := enqueue(t, s, newTestJob("user@example.com"))

	_, err := d.ProcessOnce(context.Background(), 10)
	require.NoError(t, err)

	got, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, 1, tr.sendCount())

	c := d.Counters()
	assert.Equal(t, int64(0), c.RetryScheduled)
	assert.Equal(t, int64(1), c.PermanentlyFailed)
}

func TestDispatcherHonorsPerJobMaxRetries(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{failUntil: 100}
	d := NewDispatcher(s, tr, fastPolicy(10),
		WithPollInterval(5*time.Millisecond),
		WithShutdownTimeout(time.Second))

	j := newTestJob("user@example.com")
	j.MaxRetries = 1
	id := enqueue(t, s, j)

	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, func() bool {
		got, err := s.GetByID(context.Background(), id)
		return err == nil && got.Status == job.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop())

	got, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 2, tr.sendCount())
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{delay: 20 * time.Millisecond}
	d := NewDispatcher(s, tr, fastPolicy(3), WithConcurrency(2))

	for i := 0; i < 8; i++ {
		enqueue(t, s, newTestJob(fmt.Sprintf("user%d@example.com", i)))
	}

	n, err := d.ProcessOnce(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.LessOrEqual(t, tr.maxInFlight, 2)
	assert.Equal(t, 8, tr.calls)
}

func TestDispatcherPublishesOutcomeEvents(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{failUntil: 1}
	pub := &mockPublisher{}
	d := NewDispatcher(s, tr, fastPolicy(3), WithPublisher(pub))

	enqueue(t, s, newTestJob("user@example.com"))

	_, err := d.ProcessOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []events.Outcome{events.OutcomeRetryScheduled}, pub.outcomes())

	// Second cycle finds the job after its backoff elapses.
	require.Eventually(t, func() bool {
		n, err := d.ProcessOnce(context.Background(), 10)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t,
		[]events.Outcome{events.OutcomeRetryScheduled, events.OutcomeSent},
		pub.outcomes())
}

func TestDispatcherStopClosesTransport(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{}
	d := NewDispatcher(s, tr, fastPolicy(3),
		WithPollInterval(5*time.Millisecond),
		WithShutdownTimeout(time.Second))

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.True(t, tr.closed)
}

func TestDispatcherEmptyQueueIdles(t *testing.T) {
	s := memory.New()
	tr := &mockTransport{}
	d := NewDispatcher(s, tr, fastPolicy(3),
		WithPollInterval(5*time.Millisecond),
		WithShutdownTimeout(time.Second))

	require.NoError(t, d.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, d.Stop())

	assert.Equal(t, 0, tr.sendCount())
	assert.Equal(t, int64(0), d.Counters().Attempted)
}
