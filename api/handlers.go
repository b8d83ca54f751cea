package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/odiseohq/mailqd/errors"
	"github.com/odiseohq/mailqd/job"
)

// templateTypes maps submission template ids onto job types. Unknown ids
// are rejected so a typo fails loudly instead of silently delivering a
// transactional default.
var templateTypes = map[string]job.Type{
	"transactional":       job.TypeTransactional,
	"booking_created":     job.TypeBookingCreated,
	"booking_cancelled":   job.TypeBookingCancelled,
	"booking_rescheduled": job.TypeBookingRescheduled,
	"reminder_24h":        job.TypeReminder24h,
	"reminder_1h":         job.TypeReminder1h,
	"otp_verification":    job.TypeOTPVerification,
}

type recipient struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

type submitRequest struct {
	Recipients      []recipient    `json:"recipients" binding:"required,min=1,dive"`
	Subject         string         `json:"subject" binding:"required"`
	BodyHTML        string         `json:"body_html"`
	BodyText        string         `json:"body_text"`
	TemplateID      string         `json:"template_id"`
	TemplateContext map[string]any `json:"template_context"`
	Priority        int            `json:"priority"`
	MaxRetries      int            `json:"max_retries"`
	ScheduledFor    *time.Time     `json:"scheduled_for"`
	ClientMessageID string         `json:"client_message_id"`
}

type queuedJob struct {
	JobID     int64  `json:"job_id"`
	Recipient string `json:"recipient"`
}

// handleSubmit accepts a submission, fans it out to one job per
// recipient, and answers 202 before any delivery happens.
func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobType := job.TypeTransactional
	if req.TemplateID != "" {
		t, ok := templateTypes[req.TemplateID]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown template_id: " + req.TemplateID})
			return
		}
		jobType = t
	}

	messageID := req.ClientMessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	queued := make([]queuedJob, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		j := &job.Job{
			MessageID:       messageID,
			Type:            jobType,
			RecipientEmail:  r.Email,
			RecipientName:   r.Name,
			Subject:         req.Subject,
			BodyHTML:        req.BodyHTML,
			BodyText:        req.BodyText,
			TemplateContext: req.TemplateContext,
			Priority:        req.Priority,
			MaxRetries:      req.MaxRetries,
		}
		if req.ScheduledFor != nil {
			j.ScheduledFor = req.ScheduledFor.UTC()
		}

		id, err := s.store.Enqueue(c.Request.Context(), j)
		if err != nil {
			if errors.IsValidation(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Failed to enqueue job", "recipient", r.Email, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue email"})
			return
		}
		queued = append(queued, queuedJob{JobID: id, Recipient: r.Email})
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "queued",
		"message_id": messageID,
		"queued":     queued,
	})
}

// handleQueueStatus reports per-status queue depth.
func (s *Server) handleQueueStatus(c *gin.Context) {
	counts, err := s.store.Stats(c.Request.Context())
	if err != nil {
		slog.Error("Failed to read queue stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"counts": counts,
		"total":  counts.Total(),
	})
}

// handleProcess triggers one claim-and-deliver cycle outside the poll
// schedule. The limit is clamped to keep a manual trigger from draining
// the whole queue in one request.
func (s *Server) handleProcess(c *gin.Context) {
	raw := c.DefaultQuery("batch_size", strconv.Itoa(maxProcessLimit))
	limit, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch_size"})
		return
	}
	if limit < minProcessLimit {
		limit = minProcessLimit
	}
	if limit > maxProcessLimit {
		limit = maxProcessLimit
	}

	before := s.processor.Counters()
	n, err := s.processor.ProcessOnce(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Manual processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	after := s.processor.Counters()

	c.JSON(http.StatusOK, gin.H{
		"processed": n,
		"sent":      after.Sent - before.Sent,
		"retried":   after.RetryScheduled - before.RetryScheduled,
		"failed":    after.PermanentlyFailed - before.PermanentlyFailed,
	})
}

// handleHealth reports component health, 503 when degraded.
func (s *Server) handleHealth(c *gin.Context) {
	h := s.processor.Health(c.Request.Context())

	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}

	body := gin.H{
		"healthy":     h.Healthy,
		"queue_depth": h.QueueDepth,
		"checked_at":  h.LastCheck,
	}
	if h.StoreHealth != nil {
		body["store"] = h.StoreHealth.Error()
	}
	if h.TransportHealth != nil {
		body["transport"] = h.TransportHealth.Error()
	}

	c.JSON(status, body)
}

// formatRetryAfter renders a Retry-After value in whole seconds,
// rounding up so a client that waits exactly that long is admitted.
func formatRetryAfter(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
