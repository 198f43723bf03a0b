package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrTranscriptNotFound is returned when a task references an unknown transcript.
	ErrTranscriptNotFound = errors.New("transcript not found")

	// ErrInvalidState is returned when an operation is not valid for the
	// job's current status, e.g. cancelling a completed job.
	ErrInvalidState = errors.New("operation not valid for current job status")

	// ErrVersionConflict is returned when a compare-and-swap write loses the
	// race against a concurrent writer. Callers re-read and retry.
	ErrVersionConflict = errors.New("job version conflict")
)

// ValidationError rejects a malformed submission before any job is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + e.Reason
}

// NewValidationError creates a ValidationError with the given reason.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// TransientFetchError wraps a fetch failure worth retrying: network errors,
// timeouts, rate limiting.
type TransientFetchError struct {
	Err error
}

func (e *TransientFetchError) Error() string {
	return "transient fetch error: " + e.Err.Error()
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// NewTransientFetchError wraps err as retryable.
func NewTransientFetchError(err error) error {
	return &TransientFetchError{Err: err}
}

// PermanentFetchError wraps a fetch failure that retrying cannot fix:
// video unavailable, no captions, unsupported URL.
type PermanentFetchError struct {
	Err error
}

func (e *PermanentFetchError) Error() string {
	return "permanent fetch error: " + e.Err.Error()
}

func (e *PermanentFetchError) Unwrap() error {
	return e.Err
}

// NewPermanentFetchError wraps err as non-retryable.
func NewPermanentFetchError(err error) error {
	return &PermanentFetchError{Err: err}
}

// QueueDeliveryError wraps a task publish failure after the orchestrator's
// own bounded retries. The affected transcript is marked failed so the job
// cannot hang waiting for a task that was never enqueued.
type QueueDeliveryError struct {
	Err error
}

func (e *QueueDeliveryError) Error() string {
	return "queue delivery failed: " + e.Err.Error()
}

func (e *QueueDeliveryError) Unwrap() error {
	return e.Err
}

// IsTransientFetch reports whether err classifies as retryable.
func IsTransientFetch(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

// IsPermanentFetch reports whether err classifies as non-retryable.
func IsPermanentFetch(err error) bool {
	var p *PermanentFetchError
	return errors.As(err, &p)
}
