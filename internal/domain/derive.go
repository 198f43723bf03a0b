package domain

// CompletionPolicy decides how a job with a mix of completed and failed
// transcripts is classified once nothing is left in flight.
type CompletionPolicy string

const (
	// PolicyAnySuccess marks the job completed when at least one transcript
	// completed. Partial success still delivers whatever was transcribed;
	// individual failures stay visible per transcript. This is the default.
	PolicyAnySuccess CompletionPolicy = "any_success"

	// PolicyAllSuccess marks the job completed only when every transcript
	// completed.
	PolicyAllSuccess CompletionPolicy = "all_success"
)

// DeriveJobStatus computes the job status from its transcripts. The rules are
// evaluated top to bottom, first match wins:
//
//  1. a cancelled job stays cancelled
//  2. any transcript pending or processing -> processing
//  3. all transcripts completed -> completed
//  4. all transcripts failed -> failed
//  5. mixed outcome -> completed or failed per the completion policy
//
// The result is a pure function of (current, transcripts, policy); callers
// persist it with a version check so concurrent derivations cannot clobber
// each other.
func DeriveJobStatus(current JobStatus, transcripts []Transcript, policy CompletionPolicy) JobStatus {
	if current == JobStatusCancelled {
		return JobStatusCancelled
	}

	completed := 0
	failed := 0
	for _, t := range transcripts {
		switch t.Status {
		case TranscriptStatusCompleted:
			completed++
		case TranscriptStatusFailed:
			failed++
		default:
			return JobStatusProcessing
		}
	}

	switch {
	case failed == 0:
		return JobStatusCompleted
	case completed == 0:
		return JobStatusFailed
	case policy == PolicyAllSuccess:
		return JobStatusFailed
	default:
		return JobStatusCompleted
	}
}
