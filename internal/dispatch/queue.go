package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// JOB QUEUE - Durable Postgres-Backed Work Units
// =============================================================================
// Dispatch work runs as independently scheduled jobs with at-least-once
// delivery. A claim takes a lease (locked_at + ttr_seconds); a worker crash
// leaves the row running until the lease expires, after which any worker may
// reclaim it. Jobs that exhaust their attempt budget land in dead_letter for
// operator visibility.

// Job statuses.
const (
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusDeadLetter = "dead_letter"
)

// Job types and their time-to-run ceilings and attempt budgets.
const (
	TypeTrigger = "campaign.trigger"
	TypeProcess = "campaign.process"
	TypeBatch   = "campaign.batch"

	TriggerTTR = time.Hour
	ProcessTTR = 5 * time.Minute
	BatchTTR   = 10 * time.Minute

	TriggerMaxAttempts = 5
	ProcessMaxAttempts = 3
	BatchMaxAttempts   = 3
)

// TriggerPayload fans out Stage A work. CampaignID zero means every
// configured campaign; SiteID zero means every site the campaign exists on.
type TriggerPayload struct {
	CampaignID int64 `json:"campaign_id"`
	SiteID     int64 `json:"site_id"`
	SendSMS    bool  `json:"send_sms"`
	SendEmail  bool  `json:"send_email"`
}

// ProcessPayload is one Stage A unit: select pending customers for a single
// campaign/site pair and partition them into batches.
type ProcessPayload struct {
	CampaignID int64 `json:"campaign_id"`
	SiteID     int64 `json:"site_id"`
	SendSMS    bool  `json:"send_sms"`
	SendEmail  bool  `json:"send_email"`
}

// BatchPayload is one Stage B unit: at most BatchSize customer ids.
type BatchPayload struct {
	CampaignID  int64       `json:"campaign_id"`
	SiteID      int64       `json:"site_id"`
	CustomerIDs []uuid.UUID `json:"customer_ids"`
	SendSMS     bool        `json:"send_sms"`
	SendEmail   bool        `json:"send_email"`
}

// Job is a claimed queue row.
type Job struct {
	ID          uuid.UUID
	Type        string
	Payload     []byte
	Attempts    int
	MaxAttempts int
	TTR         time.Duration
}

// Queue is the durable job queue.
type Queue struct {
	db *sql.DB
}

func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Push enqueues a job of the given type.
func (q *Queue) Push(ctx context.Context, jobType string, payload any, ttr time.Duration, maxAttempts int) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatch: marshal %s payload: %w", jobType, err)
	}
	id := uuid.New()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO survey_jobs (id, job_type, payload, status, max_attempts, ttr_seconds)
		VALUES ($1, $2, $3, 'queued', $4, $5)`,
		id, jobType, data, maxAttempts, int(ttr.Seconds()))
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatch: push %s: %w", jobType, err)
	}
	return id, nil
}

// EnqueueTrigger schedules a top-level fan-out job.
func (q *Queue) EnqueueTrigger(ctx context.Context, p TriggerPayload) error {
	_, err := q.Push(ctx, TypeTrigger, p, TriggerTTR, TriggerMaxAttempts)
	return err
}

// EnqueueProcess schedules one Stage A unit.
func (q *Queue) EnqueueProcess(ctx context.Context, p ProcessPayload) error {
	_, err := q.Push(ctx, TypeProcess, p, ProcessTTR, ProcessMaxAttempts)
	return err
}

// EnqueueBatch schedules one Stage B unit.
func (q *Queue) EnqueueBatch(ctx context.Context, p BatchPayload) error {
	_, err := q.Push(ctx, TypeBatch, p, BatchTTR, BatchMaxAttempts)
	return err
}

// EnqueueDispatch schedules Stage A for a campaign/site pair. Satisfies the
// import pipeline's post-commit hook.
func (q *Queue) EnqueueDispatch(ctx context.Context, campaignID, siteID int64, sendSMS, sendEmail bool) error {
	return q.EnqueueProcess(ctx, ProcessPayload{
		CampaignID: campaignID,
		SiteID:     siteID,
		SendSMS:    sendSMS,
		SendEmail:  sendEmail,
	})
}

// Claim takes the oldest runnable job: either queued, or running with an
// expired lease and attempts to spare. Returns (nil, nil) when the queue is
// empty. The attempt counter is charged at claim time.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE survey_jobs
		SET status = 'running', worker_id = $1, locked_at = NOW(),
			attempts = attempts + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM survey_jobs
			WHERE (status = 'queued' AND attempts < max_attempts)
			   OR (status = 'running'
				   AND locked_at + make_interval(secs => ttr_seconds) < NOW()
				   AND attempts < max_attempts)
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, payload, attempts, max_attempts, ttr_seconds`,
		workerID)

	var (
		job        Job
		ttrSeconds int
	)
	err := row.Scan(&job.ID, &job.Type, &job.Payload, &job.Attempts, &job.MaxAttempts, &ttrSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: claim: %w", err)
	}
	job.TTR = time.Duration(ttrSeconds) * time.Second
	return &job, nil
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE survey_jobs
		SET status = 'completed', progress = 1, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// Fail records a failed attempt. Jobs with attempts left go back to queued;
// exhausted jobs move to dead_letter.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	status := StatusQueued
	if job.Attempts >= job.MaxAttempts {
		status = StatusDeadLetter
		log.Printf("[Queue] job %s (%s) dead-lettered after %d attempts: %v",
			job.ID, job.Type, job.Attempts, cause)
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE survey_jobs
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`, job.ID, status, cause.Error())
	return err
}

// SetProgress records fractional progress for a running job.
func (q *Queue) SetProgress(ctx context.Context, id uuid.UUID, done, total int) error {
	if total <= 0 {
		return nil
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE survey_jobs SET progress = $2, updated_at = NOW() WHERE id = $1`,
		id, float64(done)/float64(total))
	return err
}

// Recover dead-letters expired running jobs that have no attempts left.
// Expired jobs with attempts remaining are picked up by Claim directly.
func (q *Queue) Recover(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE survey_jobs
		SET status = 'dead_letter', last_error = 'lease expired with no attempts left',
			updated_at = NOW()
		WHERE status = 'running'
		  AND locked_at + make_interval(secs => ttr_seconds) < NOW()
		  AND attempts >= max_attempts`)
	if err != nil {
		return 0, fmt.Errorf("dispatch: recover: %w", err)
	}
	return res.RowsAffected()
}
