package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ytscriptify/transcriber/internal/domain"
	"github.com/ytscriptify/transcriber/internal/storage"
)

// maxStatusRetries bounds the read-derive-CAS loop when many workers finish
// transcripts of the same job simultaneously.
const maxStatusRetries = 10

// Store is the persistence surface the orchestrator needs
type Store interface {
	CreateJobWithTranscripts(ctx context.Context, job *domain.Job, transcripts []domain.Transcript) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetJobTranscripts(ctx context.Context, jobID string) ([]domain.Transcript, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	CountJobs(ctx context.Context, status string) (int, error)
	UpdateJobStatusCAS(ctx context.Context, jobID string, expectedVersion int, status domain.JobStatus, errorMessage string) error
	CancelOpenTranscripts(ctx context.Context, jobID, reason string) (int64, error)
	FailTranscript(ctx context.Context, transcriptID, errorMessage string) (bool, error)
}

// TaskPublisher enqueues transcript tasks
type TaskPublisher interface {
	PublishTask(ctx context.Context, task domain.TaskMessage) error
}

// Notifier is told when a job reaches a terminal status so the completion
// webhook can be delivered. Implementations must not block the caller.
type Notifier interface {
	NotifyJobFinished(jobID string)
}

// Config holds orchestrator settings
type Config struct {
	Logger          *slog.Logger
	Store           Store
	Queue           TaskPublisher
	Notifier        Notifier
	Policy          domain.CompletionPolicy
	MaxURLsPerJob   int
	DefaultPageSize int
	MaxPageSize     int
}

// Orchestrator owns the job lifecycle: submission, status aggregation,
// listing, and cancellation.
type Orchestrator struct {
	logger          *slog.Logger
	store           Store
	queue           TaskPublisher
	notifier        Notifier
	policy          domain.CompletionPolicy
	maxURLsPerJob   int
	defaultPageSize int
	maxPageSize     int
}

// New creates an Orchestrator
func New(cfg *Config) *Orchestrator {
	policy := cfg.Policy
	if policy == "" {
		policy = domain.PolicyAnySuccess
	}
	return &Orchestrator{
		logger:          cfg.Logger,
		store:           cfg.Store,
		queue:           cfg.Queue,
		notifier:        cfg.Notifier,
		policy:          policy,
		maxURLsPerJob:   cfg.MaxURLsPerJob,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
}

// Submit validates the batch, creates the job with one transcript per URL in
// a single transaction, and enqueues one task per transcript. It returns as
// soon as the tasks are enqueued; processing happens in the workers.
func (o *Orchestrator) Submit(ctx context.Context, urls []string, callbackURL string) (*domain.Job, error) {
	if len(urls) == 0 {
		return nil, domain.NewValidationError("youtube_urls must not be empty")
	}
	if len(urls) > o.maxURLsPerJob {
		return nil, domain.NewValidationError(
			fmt.Sprintf("maximum %d URLs per job, got %d", o.maxURLsPerJob, len(urls)))
	}
	if callbackURL == "" {
		return nil, domain.NewValidationError("callback_url is required")
	}
	if !isHTTPURL(callbackURL) {
		return nil, domain.NewValidationError("callback_url must be a valid HTTP(S) URL")
	}

	now := time.Now().UTC()
	job := &domain.Job{
		JobID:       uuid.New().String(),
		Status:      domain.JobStatusPending,
		CallbackURL: callbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	transcripts := make([]domain.Transcript, len(urls))
	for i, u := range urls {
		transcripts[i] = domain.Transcript{
			TranscriptID: uuid.New().String(),
			JobID:        job.JobID,
			URL:          u,
			VideoID:      domain.ExtractVideoID(u),
			Position:     i,
			Status:       domain.TranscriptStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	if err := o.store.CreateJobWithTranscripts(ctx, job, transcripts); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	o.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.Int("urls", len(urls)),
	)

	// Enqueue one task per transcript. A task that cannot be enqueued after
	// the publisher's own retries marks its transcript failed so the job
	// cannot wait forever on a task that does not exist.
	enqueueFailed := false
	for _, t := range transcripts {
		task := domain.TaskMessage{
			JobID:        job.JobID,
			TranscriptID: t.TranscriptID,
			Attempt:      0,
		}
		if err := o.queue.PublishTask(ctx, task); err != nil {
			o.logger.Error("Failed to enqueue task",
				slog.String("job_id", job.JobID),
				slog.String("transcript_id", t.TranscriptID),
				slog.String("error", err.Error()),
			)
			if _, ferr := o.store.FailTranscript(ctx, t.TranscriptID, "task could not be enqueued: "+err.Error()); ferr != nil {
				o.logger.Error("Failed to mark transcript failed after enqueue error",
					slog.String("transcript_id", t.TranscriptID),
					slog.String("error", ferr.Error()),
				)
			}
			enqueueFailed = true
		}
	}

	if enqueueFailed {
		if err := o.OnTranscriptTransition(ctx, job.JobID); err != nil {
			o.logger.Error("Failed to re-derive job status after enqueue failures",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
		}
	}

	return job, nil
}

// OnTranscriptTransition re-derives the job status from its transcripts and
// persists it with an optimistic version check, retrying on conflicts.
// Exactly one caller wins the CAS into a terminal status, and only that
// caller triggers the completion webhook.
func (o *Orchestrator) OnTranscriptTransition(ctx context.Context, jobID string) error {
	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}

		transcripts, err := o.store.GetJobTranscripts(ctx, jobID)
		if err != nil {
			return err
		}

		next := domain.DeriveJobStatus(job.Status, transcripts, o.policy)
		if next == job.Status {
			return nil
		}

		errorMessage := ""
		if next == domain.JobStatusFailed {
			errorMessage = failureSummary(transcripts)
		}

		err = o.store.UpdateJobStatusCAS(ctx, jobID, job.Version, next, errorMessage)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		if next.IsTerminal() {
			o.logger.Info("Job reached terminal status",
				slog.String("job_id", jobID),
				slog.String("status", string(next)),
			)
			o.notifier.NotifyJobFinished(jobID)
		}
		return nil
	}

	return fmt.Errorf("job %s: gave up after %d version conflicts", jobID, maxStatusRetries)
}

// GetJob returns the job and its transcripts in submission order
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*domain.Job, []domain.Transcript, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	transcripts, err := o.store.GetJobTranscripts(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	return job, transcripts, nil
}

// ListQuery pages the job listing. Cursor wins over Page when both are set.
type ListQuery struct {
	Status   string
	PageSize int
	Page     int
	Cursor   *storage.JobCursor
}

// ListResult is one page of jobs, newest first
type ListResult struct {
	Jobs    []domain.Job
	Total   int
	HasMore bool
}

// ListJobs returns one page of jobs ordered by creation time descending.
// Page size is clamped to the configured maximum.
func (o *Orchestrator) ListJobs(ctx context.Context, q ListQuery) (*ListResult, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = o.defaultPageSize
	}
	if pageSize > o.maxPageSize {
		pageSize = o.maxPageSize
	}

	offset := 0
	if q.Cursor == nil && q.Page > 1 {
		offset = (q.Page - 1) * pageSize
	}

	jobs, err := o.store.ListJobs(ctx, storage.JobFilter{
		Status:   q.Status,
		PageSize: pageSize,
		Cursor:   q.Cursor,
		Offset:   offset,
	})
	if err != nil {
		return nil, err
	}

	hasMore := len(jobs) > pageSize
	if hasMore {
		jobs = jobs[:pageSize]
	}

	total, err := o.store.CountJobs(ctx, q.Status)
	if err != nil {
		return nil, err
	}

	return &ListResult{Jobs: jobs, Total: total, HasMore: hasMore}, nil
}

// Cancel moves a pending or processing job to cancelled and fails its open
// transcripts. In-flight fetches are allowed to finish, but their results
// are discarded: the transcript rows are already terminal by the time the
// worker tries to write.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job is %s", domain.ErrInvalidState, job.Status)
		}

		err = o.store.UpdateJobStatusCAS(ctx, jobID, job.Version, domain.JobStatusCancelled, "cancelled by client")
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		cancelled, err := o.store.CancelOpenTranscripts(ctx, jobID, "job cancelled")
		if err != nil {
			return err
		}

		o.logger.Info("Job cancelled",
			slog.String("job_id", jobID),
			slog.Int64("open_transcripts_failed", cancelled),
		)

		o.notifier.NotifyJobFinished(jobID)
		return nil
	}

	return fmt.Errorf("job %s: gave up after %d version conflicts", jobID, maxStatusRetries)
}

func failureSummary(transcripts []domain.Transcript) string {
	failed := 0
	for _, t := range transcripts {
		if t.Status == domain.TranscriptStatusFailed {
			failed++
		}
	}
	return fmt.Sprintf("%d of %d transcripts failed", failed, len(transcripts))
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
