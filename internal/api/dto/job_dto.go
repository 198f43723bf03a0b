package dto

import "encoding/json"

type CreateJobRequest struct {
	YouTubeURLs []string `json:"youtube_urls" binding:"required"`
	CallbackURL string   `json:"callback_url" binding:"required"`
}

type CreateJobResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	URLCount  int    `json:"url_count"`
	CreatedAt string `json:"created_at"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobSummaryDTO `json:"jobs"`
	Total      int             `json:"total"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type JobSummaryDTO struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobDetailDTO struct {
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	CallbackURL string          `json:"callback_url"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	Transcripts []TranscriptDTO `json:"transcripts"`
}

type TranscriptDTO struct {
	TranscriptID string `json:"transcript_id"`
	URL          string `json:"url"`
	VideoID      string `json:"video_id"`
	Status       string `json:"status"`
	// Transcript is the raw fetched segment array; null until completed.
	Transcript json.RawMessage `json:"transcript"`
	Error      string          `json:"error,omitempty"`
	Attempt    int             `json:"attempt"`
}

type CancelJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}
