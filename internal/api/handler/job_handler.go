package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ytscriptify/transcriber/internal/api/dto"
	"github.com/ytscriptify/transcriber/internal/domain"
	"github.com/ytscriptify/transcriber/internal/orchestrator"
	"github.com/ytscriptify/transcriber/internal/storage"
)

// CreateJob handles POST /api/v1/jobs
// Accepts a batch of YouTube URLs and returns 202 once the job is queued
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), req.YouTubeURLs, req.CallbackURL)
	if err != nil {
		h.respondError(c, err, "Failed to create job")
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.Int("url_count", len(req.YouTubeURLs)),
	)

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:     job.JobID,
		Status:    string(job.Status),
		URLCount:  len(req.YouTubeURLs),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job with all its transcripts
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, transcripts, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to get job")
		return
	}

	detail := dto.JobDetailDTO{
		JobID:       job.JobID,
		Status:      string(job.Status),
		Error:       job.ErrorMessage,
		CallbackURL: job.CallbackURL,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
		Transcripts: make([]dto.TranscriptDTO, len(transcripts)),
	}
	for i, t := range transcripts {
		detail.Transcripts[i] = toTranscriptDTO(t)
	}

	c.JSON(http.StatusOK, detail)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional status filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !validJobStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status filter",
		})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	result, err := h.jobs.ListJobs(c.Request.Context(), orchestrator.ListQuery{
		Status:   req.Status,
		PageSize: req.PageSize,
		Page:     req.Page,
		Cursor:   cursor,
	})
	if err != nil {
		h.respondError(c, err, "Failed to list jobs")
		return
	}

	jobs := make([]dto.JobSummaryDTO, len(result.Jobs))
	for i, job := range result.Jobs {
		jobs[i] = dto.JobSummaryDTO{
			JobID:     job.JobID,
			Status:    string(job.Status),
			Error:     job.ErrorMessage,
			CreatedAt: job.CreatedAt.Format(time.RFC3339),
			UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
		}
	}

	var nextCursor string
	if result.HasMore && len(result.Jobs) > 0 {
		last := result.Jobs[len(result.Jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		Total:      result.Total,
		NextCursor: nextCursor,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a pending or processing job; terminal jobs return 409
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.jobs.Cancel(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err, "Failed to cancel job")
		return
	}

	c.JSON(http.StatusOK, dto.CancelJobResponse{
		JobID:  jobID,
		Status: string(domain.JobStatusCancelled),
	})
}

// respondError maps domain errors onto HTTP status codes
func (h *JobHandler) respondError(c *gin.Context, err error, fallback string) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": vErr.Reason,
		})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
	default:
		h.logger.Error(fallback, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fallback,
		})
	}
}

func toTranscriptDTO(t domain.Transcript) dto.TranscriptDTO {
	out := dto.TranscriptDTO{
		TranscriptID: t.TranscriptID,
		URL:          t.URL,
		VideoID:      t.VideoID,
		Status:       string(t.Status),
		Error:        t.ErrorMessage,
		Attempt:      t.Attempt,
	}
	if t.Status == domain.TranscriptStatusCompleted && t.Transcript != "" {
		out.Transcript = json.RawMessage(t.Transcript)
	}
	return out
}

func validJobStatus(s string) bool {
	switch domain.JobStatus(s) {
	case domain.JobStatusPending, domain.JobStatusProcessing,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
		return true
	}
	return false
}
