package handler

import (
	"context"
	"log/slog"

	"github.com/ytscriptify/transcriber/internal/domain"
	"github.com/ytscriptify/transcriber/internal/orchestrator"
)

// JobService is the orchestrator surface the HTTP layer depends on
type JobService interface {
	Submit(ctx context.Context, urls []string, callbackURL string) (*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, []domain.Transcript, error)
	ListJobs(ctx context.Context, q orchestrator.ListQuery) (*orchestrator.ListResult, error)
	Cancel(ctx context.Context, jobID string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Jobs    JobService
	APIKey  string
	Version string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}
