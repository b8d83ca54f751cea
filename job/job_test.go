package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailerrors "github.com/odiseohq/mailqd/errors"
)

func TestNew_Defaults(t *testing.T) {
	j := New(TypeTransactional, "user@example.com", "Hello", "<p>Hi</p>")

	require.NotNil(t, j)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, PriorityDefault, j.Priority)
	assert.Equal(t, MaxRetriesDefault, j.MaxRetries)
	assert.Equal(t, 0, j.RetryCount)
	assert.False(t, j.ScheduledFor.IsZero())
	assert.False(t, j.CreatedAt.IsZero())
	assert.NoError(t, j.Validate())
}

func TestJob_Validate_EmptyRecipient(t *testing.T) {
	j := New(TypeTransactional, "", "Hello", "body")

	err := j.Validate()
	assert.ErrorIs(t, err, mailerrors.ErrNoRecipients)
}

func TestJob_Validate_Bounds(t *testing.T) {
	j := New(TypeTransactional, "user@example.com", "Hello", "body")
	j.Priority = 11
	assert.Error(t, j.Validate())

	j = New(TypeTransactional, "user@example.com", "Hello", "body")
	j.MaxRetries = 0
	assert.Error(t, j.Validate())

	j = New(TypeTransactional, "user@example.com", "Hello", "body")
	j.MaxRetries = 3
	j.RetryCount = 4
	assert.Error(t, j.Validate())
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusSent.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusScheduled.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestJob_Eligible(t *testing.T) {
	now := time.Now().UTC()

	j := New(TypeTransactional, "user@example.com", "Hello", "body")
	assert.True(t, j.Eligible(now.Add(time.Second)))

	j.ScheduledFor = now.Add(time.Hour)
	assert.False(t, j.Eligible(now))

	j.ScheduledFor = now.Add(-time.Hour)
	j.Status = StatusScheduled
	assert.True(t, j.Eligible(now))

	j.Status = StatusProcessing
	assert.False(t, j.Eligible(now))

	j.Status = StatusSent
	assert.False(t, j.Eligible(now))
}

func TestJob_Clone_Independence(t *testing.T) {
	j := New(TypeBookingCreated, "user@example.com", "Hello", "body")
	j.TemplateContext = map[string]any{"name": "Ada"}
	next := time.Now().UTC().Add(5 * time.Minute)
	j.NextRetryAt = &next

	cp := j.Clone()
	cp.TemplateContext["name"] = "Grace"
	*cp.NextRetryAt = next.Add(time.Hour)

	assert.Equal(t, "Ada", j.TemplateContext["name"])
	assert.Equal(t, next, *j.NextRetryAt)
}
