package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ytscriptify/transcriber/internal/domain"
	"github.com/ytscriptify/transcriber/shared/postgresql"
)

// Storage handles all database operations for jobs and transcripts
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a Storage backed by the given PostgreSQL client
func New(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// NewWithDB creates a Storage from a raw sqlx handle
func NewWithDB(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}

// CreateJobWithTranscripts inserts the job row and all its transcript rows in
// one transaction, so every transcript exists before any task is enqueued.
func (s *Storage) CreateJobWithTranscripts(ctx context.Context, job *domain.Job, transcripts []domain.Transcript) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (job_id, status, callback_url, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.JobID, job.Status, job.CallbackURL, job.Version, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	for i := range transcripts {
		t := &transcripts[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transcripts (transcript_id, job_id, url, video_id, position, status, attempt, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, t.TranscriptID, t.JobID, t.URL, t.VideoID, t.Position, t.Status, t.Attempt, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert transcript: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job creation: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.Int("transcripts", len(transcripts)),
	)

	return nil
}

// GetJob retrieves a job by id
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `
		SELECT job_id, status, callback_url, error_message, callback_error,
		       callback_delivered_at, version, created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetJobTranscripts returns a job's transcripts in submission order
func (s *Storage) GetJobTranscripts(ctx context.Context, jobID string) ([]domain.Transcript, error) {
	var transcripts []domain.Transcript
	err := s.db.SelectContext(ctx, &transcripts, `
		SELECT transcript_id, job_id, url, video_id, position, status,
		       transcript, error_message, attempt, created_at, updated_at
		FROM transcripts
		WHERE job_id = $1
		ORDER BY position ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcripts: %w", err)
	}
	return transcripts, nil
}

// GetTranscript retrieves a single transcript by id
func (s *Storage) GetTranscript(ctx context.Context, transcriptID string) (*domain.Transcript, error) {
	var t domain.Transcript
	err := s.db.GetContext(ctx, &t, `
		SELECT transcript_id, job_id, url, video_id, position, status,
		       transcript, error_message, attempt, created_at, updated_at
		FROM transcripts
		WHERE transcript_id = $1
	`, transcriptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return &t, nil
}

// JobCursor is a keyset position in the newest-first job listing
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobFilter narrows and pages the job listing
type JobFilter struct {
	Status   string
	PageSize int
	Cursor   *JobCursor
	Offset   int
}

// ListJobs returns up to PageSize+1 jobs newest first; the extra row tells
// the caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `
		SELECT job_id, status, callback_url, error_message, callback_error,
		       callback_delivered_at, version, created_at, updated_at
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)
	argIdx++

	if filter.Offset > 0 && filter.Cursor == nil {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs, optionally filtered by status
func (s *Storage) CountJobs(ctx context.Context, status string) (int, error) {
	var count int
	var err error
	if status != "" {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM jobs WHERE status = $1`, status)
	} else {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM jobs`)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// MarkTranscriptProcessing moves a non-terminal transcript to processing.
// Returns false when the transcript is already terminal, which means the
// task is a stale redelivery and must be discarded.
func (s *Storage) MarkTranscriptProcessing(ctx context.Context, transcriptID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status = $1, updated_at = NOW()
		WHERE transcript_id = $2 AND status IN ($3, $4)
	`, domain.TranscriptStatusProcessing, transcriptID,
		domain.TranscriptStatusPending, domain.TranscriptStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to mark transcript processing: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// CompleteTranscript writes the transcript data and marks it completed.
// A terminal transcript is never overwritten; the write reports whether it
// took effect.
func (s *Storage) CompleteTranscript(ctx context.Context, transcriptID, data string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status = $1, transcript = $2, error_message = '', updated_at = NOW()
		WHERE transcript_id = $3 AND status NOT IN ($4, $5)
	`, domain.TranscriptStatusCompleted, data, transcriptID,
		domain.TranscriptStatusCompleted, domain.TranscriptStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to complete transcript: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// FailTranscript records the error and marks the transcript failed, unless
// it is already terminal.
func (s *Storage) FailTranscript(ctx context.Context, transcriptID, errorMessage string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status = $1, error_message = $2, transcript = '', updated_at = NOW()
		WHERE transcript_id = $3 AND status NOT IN ($4, $5)
	`, domain.TranscriptStatusFailed, errorMessage, transcriptID,
		domain.TranscriptStatusCompleted, domain.TranscriptStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to fail transcript: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// IncrementTranscriptAttempt bumps the attempt counter of a non-terminal
// transcript and returns the new value.
func (s *Storage) IncrementTranscriptAttempt(ctx context.Context, transcriptID string) (int, error) {
	var attempt int
	err := s.db.QueryRowContext(ctx, `
		UPDATE transcripts
		SET attempt = attempt + 1, updated_at = NOW()
		WHERE transcript_id = $1 AND status NOT IN ($2, $3)
		RETURNING attempt
	`, transcriptID, domain.TranscriptStatusCompleted, domain.TranscriptStatusFailed).Scan(&attempt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrTranscriptNotFound
		}
		return 0, fmt.Errorf("failed to increment attempt: %w", err)
	}
	return attempt, nil
}

// UpdateJobStatusCAS writes the job status guarded by the version counter.
// Returns domain.ErrVersionConflict when a concurrent writer got there first;
// the caller re-reads and retries.
func (s *Storage) UpdateJobStatusCAS(ctx context.Context, jobID string, expectedVersion int, status domain.JobStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_message = $2, version = version + 1, updated_at = NOW()
		WHERE job_id = $3 AND version = $4
	`, status, errorMessage, jobID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrVersionConflict
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)

	return nil
}

// CancelOpenTranscripts fails every pending or processing transcript of a
// cancelled job. Completed and failed transcripts are left untouched.
func (s *Storage) CancelOpenTranscripts(ctx context.Context, jobID, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE job_id = $3 AND status IN ($4, $5)
	`, domain.TranscriptStatusFailed, reason, jobID,
		domain.TranscriptStatusPending, domain.TranscriptStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel open transcripts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// MarkCallbackDelivered records a successful webhook delivery
func (s *Storage) MarkCallbackDelivered(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET callback_delivered_at = NOW(), callback_error = '', updated_at = NOW()
		WHERE job_id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark callback delivered: %w", err)
	}
	return nil
}

// RecordCallbackError records a delivery failure after all attempts were
// exhausted. Job status is untouched: delivery failure is orthogonal to the
// processing outcome.
func (s *Storage) RecordCallbackError(ctx context.Context, jobID, errorMessage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET callback_error = $1, updated_at = NOW()
		WHERE job_id = $2
	`, errorMessage, jobID)
	if err != nil {
		return fmt.Errorf("failed to record callback error: %w", err)
	}
	return nil
}

// ListStaleActiveJobs returns jobs still pending/processing that have not
// been touched since the cutoff. The sweeper re-derives their status in case
// a worker crashed between a transcript write and the aggregation step.
func (s *Storage) ListStaleActiveJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT job_id, status, callback_url, error_message, callback_error,
		       callback_delivered_at, version, created_at, updated_at
		FROM jobs
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4
	`, domain.JobStatusPending, domain.JobStatusProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return jobs, nil
}

// ListUndeliveredJobs returns terminal jobs whose webhook neither succeeded
// nor permanently failed, so the sweeper can retry delivery after a crash.
func (s *Storage) ListUndeliveredJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT job_id, status, callback_url, error_message, callback_error,
		       callback_delivered_at, version, created_at, updated_at
		FROM jobs
		WHERE status IN ($1, $2, $3)
		  AND callback_url <> ''
		  AND callback_delivered_at IS NULL
		  AND callback_error = ''
		  AND updated_at < $4
		ORDER BY updated_at ASC
		LIMIT $5
	`, domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undelivered jobs: %w", err)
	}
	return jobs, nil
}
