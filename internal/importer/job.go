package importer

import (
	"context"
	"log"
	"time"
)

// Queue identity for server-side commits. Large files are committed by a
// worker instead of inside the HTTP request.
const (
	JobType        = "import.commit"
	JobTTR         = 30 * time.Minute
	JobMaxAttempts = 3
)

// Job re-runs the commit phase of a previewed session on a worker.
type Job struct {
	SessionID    string `json:"session_id"`
	QueueSending bool   `json:"queue_sending"`
}

// Run executes the job. A session that was already committed (for example by
// a retry racing the first delivery) is a logged no-op, not a failure.
func (p *Pipeline) Run(ctx context.Context, job Job) error {
	result, err := p.Commit(ctx, job.SessionID, job.QueueSending)
	if err == ErrWrongState {
		log.Printf("[Import] session %s already committed, skipping", job.SessionID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("[Import] job for session %s created %d customers", job.SessionID, result.Created)
	return nil
}
