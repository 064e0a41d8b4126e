package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQueue(db), mock
}

func TestPushStoresTypeAndBudgets(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`(?s)INSERT INTO survey_jobs`).
		WithArgs(sqlmock.AnyArg(), TypeProcess, sqlmock.AnyArg(), ProcessMaxAttempts, 300).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := q.EnqueueProcess(context.Background(), ProcessPayload{CampaignID: 7, SiteID: 1, SendSMS: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimEmptyQueue(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectQuery(`(?s)UPDATE survey_jobs.+FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	job, err := q.Claim(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimReturnsJobWithTTR(t *testing.T) {
	q, mock := newMockQueue(t)

	id := uuid.New()
	mock.ExpectQuery(`(?s)UPDATE survey_jobs.+FOR UPDATE SKIP LOCKED`).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "job_type", "payload", "attempts", "max_attempts", "ttr_seconds"}).
			AddRow(id.String(), TypeBatch, []byte(`{"campaign_id":7}`), 1, 3, 600))

	job, err := q.Claim(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, TypeBatch, job.Type)
	assert.Equal(t, 10*time.Minute, job.TTR)
	assert.Equal(t, 1, job.Attempts)
}

func TestFailRequeuesWithAttemptsLeft(t *testing.T) {
	q, mock := newMockQueue(t)

	job := &Job{ID: uuid.New(), Type: TypeBatch, Attempts: 1, MaxAttempts: 3}
	mock.ExpectExec(`(?s)UPDATE survey_jobs.+SET status = \$2`).
		WithArgs(job.ID, StatusQueued, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Fail(context.Background(), job, errors.New("boom")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailDeadLettersExhaustedJob(t *testing.T) {
	q, mock := newMockQueue(t)

	job := &Job{ID: uuid.New(), Type: TypeBatch, Attempts: 3, MaxAttempts: 3}
	mock.ExpectExec(`(?s)UPDATE survey_jobs.+SET status = \$2`).
		WithArgs(job.ID, StatusDeadLetter, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Fail(context.Background(), job, errors.New("boom")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetProgressIgnoresZeroTotal(t *testing.T) {
	q, mock := newMockQueue(t)

	require.NoError(t, q.SetProgress(context.Background(), uuid.New(), 1, 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}
