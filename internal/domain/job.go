package domain

import "time"

// JobStatus is the aggregate status of a transcription job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transition can occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// TranscriptStatus is the status of a single video within a job.
type TranscriptStatus string

const (
	TranscriptStatusPending    TranscriptStatus = "pending"
	TranscriptStatusProcessing TranscriptStatus = "processing"
	TranscriptStatusCompleted  TranscriptStatus = "completed"
	TranscriptStatusFailed     TranscriptStatus = "failed"
)

// IsTerminal reports whether the transcript has reached a final state.
func (s TranscriptStatus) IsTerminal() bool {
	return s == TranscriptStatusCompleted || s == TranscriptStatusFailed
}

// Job is a client-submitted batch of videos tracked as one unit.
// Status is derived from the transcripts (see DeriveJobStatus); it is never
// written directly except for the explicit transition to cancelled.
type Job struct {
	JobID         string    `db:"job_id"`
	Status        JobStatus `db:"status"`
	CallbackURL   string    `db:"callback_url"`
	ErrorMessage  string    `db:"error_message"`
	CallbackError string    `db:"callback_error"`
	// CallbackDeliveredAt is nil until the completion webhook is accepted.
	CallbackDeliveredAt *time.Time `db:"callback_delivered_at"`
	Version             int        `db:"version"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Transcript is one video's unit of work within a job. Transcript and
// ErrorMessage are mutually exclusive: a completed transcript carries data,
// a failed one carries an error.
type Transcript struct {
	TranscriptID string           `db:"transcript_id"`
	JobID        string           `db:"job_id"`
	URL          string           `db:"url"`
	VideoID      string           `db:"video_id"`
	Position     int              `db:"position"`
	Status       TranscriptStatus `db:"status"`
	Transcript   string           `db:"transcript"`
	ErrorMessage string           `db:"error_message"`
	Attempt      int              `db:"attempt"`
	CreatedAt    time.Time        `db:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at"`
}

// TaskMessage is the ephemeral queue message instructing a worker to run one
// transcript attempt. Redelivery of the same message is harmless: all
// transcript mutations are keyed on TranscriptID and terminal transcripts
// are never written again.
type TaskMessage struct {
	JobID        string `json:"job_id"`
	TranscriptID string `json:"transcript_id"`
	Attempt      int    `json:"attempt"`
}
