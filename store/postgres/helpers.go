package postgres

import (
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/odiseohq/mailqd/job"
)

const jobColumns = `
	id, message_id, type, recipient_email, recipient_name,
	subject, body_html, body_text, template_context,
	status, priority, retry_count, max_retries, last_error,
	next_retry_at, scheduled_for, sent_at, created_at, updated_at`

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return stderrors.Is(err, pgx.ErrNoRows)
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	var jobType, status string
	err := row.Scan(
		&j.ID, &j.MessageID, &jobType, &j.RecipientEmail, &j.RecipientName,
		&j.Subject, &j.BodyHTML, &j.BodyText, &j.TemplateContext,
		&status, &j.Priority, &j.RetryCount, &j.MaxRetries, &j.LastError,
		&j.NextRetryAt, &j.ScheduledFor, &j.SentAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Type = job.Type(jobType)
	j.Status = job.Status(status)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}
