package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytscriptify/transcriber/internal/domain"
	"github.com/ytscriptify/transcriber/internal/storage"
)

// memStore is an in-memory Store good enough to exercise the orchestrator,
// including the optimistic version check.
type memStore struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	transcripts map[string][]domain.Transcript

	createErr  error
	publishErr map[string]error

	// conflictsLeft makes the next N CAS calls fail with a version conflict.
	conflictsLeft int
}

func newMemStore() *memStore {
	return &memStore{
		jobs:        make(map[string]*domain.Job),
		transcripts: make(map[string][]domain.Transcript),
	}
}

func (m *memStore) CreateJobWithTranscripts(_ context.Context, job *domain.Job, transcripts []domain.Transcript) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.JobID] = &copied
	m.transcripts[job.JobID] = append([]domain.Transcript(nil), transcripts...)
	return nil
}

func (m *memStore) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memStore) GetJobTranscripts(_ context.Context, jobID string) ([]domain.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transcript(nil), m.transcripts[jobID]...), nil
}

// ListJobs mirrors the keyset SQL: newest first by (created_at, job_id),
// cursor rows strictly older, at most PageSize+1 rows returned.
func (m *memStore) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Job
	for _, job := range m.jobs {
		if filter.Status != "" && string(job.Status) != filter.Status {
			continue
		}
		if filter.Cursor != nil {
			c := filter.Cursor
			older := job.CreatedAt.Before(c.CreatedAt) ||
				(job.CreatedAt.Equal(c.CreatedAt) && job.JobID < c.JobID)
			if !older {
				continue
			}
		}
		out = append(out, *job)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].JobID > out[j].JobID
	})

	if filter.Cursor == nil && filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}

	if len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func (m *memStore) CountJobs(_ context.Context, status string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if status == "" || string(job.Status) == status {
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpdateJobStatusCAS(_ context.Context, jobID string, expectedVersion int, status domain.JobStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return domain.ErrVersionConflict
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	job.Version++
	job.Status = status
	job.ErrorMessage = errorMessage
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) CancelOpenTranscripts(_ context.Context, jobID, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	ts := m.transcripts[jobID]
	for i := range ts {
		if !ts[i].Status.IsTerminal() {
			ts[i].Status = domain.TranscriptStatusFailed
			ts[i].ErrorMessage = reason
			n++
		}
	}
	return n, nil
}

func (m *memStore) FailTranscript(_ context.Context, transcriptID, errorMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jobID := range m.transcripts {
		ts := m.transcripts[jobID]
		for i := range ts {
			if ts[i].TranscriptID == transcriptID && !ts[i].Status.IsTerminal() {
				ts[i].Status = domain.TranscriptStatusFailed
				ts[i].ErrorMessage = errorMessage
				return true, nil
			}
		}
	}
	return false, nil
}

// setTranscriptStatus is a test helper simulating a worker write.
func (m *memStore) setTranscriptStatus(jobID string, index int, status domain.TranscriptStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[jobID][index].Status = status
}

type memQueue struct {
	mu        sync.Mutex
	published []domain.TaskMessage
}

func (q *memQueue) PublishTask(_ context.Context, task domain.TaskMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, task)
	return nil
}

type memNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *memNotifier) NotifyJobFinished(jobID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, jobID)
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

func newTestOrchestrator(store *memStore, queue *memQueue, notifier *memNotifier) *Orchestrator {
	return New(&Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:           store,
		Queue:           queue,
		Notifier:        notifier,
		Policy:          domain.PolicyAnySuccess,
		MaxURLsPerJob:   50,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	})
}

func TestSubmit_CreatesJobAndEnqueuesTasks(t *testing.T) {
	store := newMemStore()
	queue := &memQueue{}
	o := newTestOrchestrator(store, queue, &memNotifier{})

	urls := []string{
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=jNQXAC9IVRw",
		"https://youtu.be/9bZkp7q19f0",
	}
	job, err := o.Submit(context.Background(), urls, "https://example.com/hook")
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusPending, job.Status)

	transcripts, err := store.GetJobTranscripts(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Len(t, transcripts, 3)
	for i, tr := range transcripts {
		assert.Equal(t, i, tr.Position)
		assert.Equal(t, domain.TranscriptStatusPending, tr.Status)
		assert.NotEmpty(t, tr.VideoID)
	}

	require.Len(t, queue.published, 3)
	for _, task := range queue.published {
		assert.Equal(t, job.JobID, task.JobID)
		assert.Equal(t, 0, task.Attempt)
	}
}

func TestSubmit_Validation(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), &memQueue{}, &memNotifier{})

	many := make([]string, 51)
	for i := range many {
		many[i] = "https://youtu.be/dQw4w9WgXcQ"
	}

	tests := []struct {
		name        string
		urls        []string
		callbackURL string
	}{
		{"empty urls", nil, "https://example.com/hook"},
		{"too many urls", many, "https://example.com/hook"},
		{"missing callback", []string{"https://youtu.be/dQw4w9WgXcQ"}, ""},
		{"bad callback scheme", []string{"https://youtu.be/dQw4w9WgXcQ"}, "ftp://example.com/hook"},
		{"callback without host", []string{"https://youtu.be/dQw4w9WgXcQ"}, "https://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Submit(context.Background(), tt.urls, tt.callbackURL)
			require.Error(t, err)
			var vErr *domain.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestSubmit_EnqueueFailureFailsTranscript(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{}

	// Every publish fails: the single-URL job must go terminal failed.
	o := New(&Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:           store,
		Queue:           &alwaysFailQueue{},
		Notifier:        notifier,
		Policy:          domain.PolicyAnySuccess,
		MaxURLsPerJob:   50,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	})

	job, err := o.Submit(context.Background(), []string{"https://youtu.be/dQw4w9WgXcQ"}, "https://example.com/hook")
	require.NoError(t, err)

	got, err := store.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "1 of 1 transcripts failed", got.ErrorMessage)
	assert.Equal(t, 1, notifier.count())
}

type alwaysFailQueue struct{}

func (q *alwaysFailQueue) PublishTask(_ context.Context, _ domain.TaskMessage) error {
	return &domain.QueueDeliveryError{Err: fmt.Errorf("broker down")}
}

func TestOnTranscriptTransition_EndToEnd(t *testing.T) {
	store := newMemStore()
	queue := &memQueue{}
	notifier := &memNotifier{}
	o := newTestOrchestrator(store, queue, notifier)

	urls := []string{
		"https://youtu.be/dQw4w9WgXcQ",
		"https://youtu.be/jNQXAC9IVRw",
		"https://youtu.be/9bZkp7q19f0",
	}
	job, err := o.Submit(context.Background(), urls, "https://example.com/hook")
	require.NoError(t, err)
	ctx := context.Background()

	// First transcript starts: pending -> processing.
	store.setTranscriptStatus(job.JobID, 0, domain.TranscriptStatusProcessing)
	require.NoError(t, o.OnTranscriptTransition(ctx, job.JobID))
	got, _ := store.GetJob(ctx, job.JobID)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)

	// Two finish, one still open: stays processing.
	store.setTranscriptStatus(job.JobID, 0, domain.TranscriptStatusCompleted)
	store.setTranscriptStatus(job.JobID, 1, domain.TranscriptStatusFailed)
	require.NoError(t, o.OnTranscriptTransition(ctx, job.JobID))
	got, _ = store.GetJob(ctx, job.JobID)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.Equal(t, 0, notifier.count())

	// Last one finishes: any_success means completed.
	store.setTranscriptStatus(job.JobID, 2, domain.TranscriptStatusFailed)
	require.NoError(t, o.OnTranscriptTransition(ctx, job.JobID))
	got, _ = store.GetJob(ctx, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, notifier.count())

	// Redundant notification after terminal is a no-op.
	require.NoError(t, o.OnTranscriptTransition(ctx, job.JobID))
	assert.Equal(t, 1, notifier.count())
}

func TestOnTranscriptTransition_RetriesVersionConflicts(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{}
	o := newTestOrchestrator(store, &memQueue{}, notifier)

	job, err := o.Submit(context.Background(), []string{"https://youtu.be/dQw4w9WgXcQ"}, "https://example.com/hook")
	require.NoError(t, err)

	store.setTranscriptStatus(job.JobID, 0, domain.TranscriptStatusCompleted)
	store.conflictsLeft = 3

	require.NoError(t, o.OnTranscriptTransition(context.Background(), job.JobID))
	got, _ := store.GetJob(context.Background(), job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, notifier.count())
}

func TestCancel_FailsOpenTranscriptsAndKeepsCompletedOnes(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{}
	o := newTestOrchestrator(store, &memQueue{}, notifier)

	urls := []string{
		"https://youtu.be/dQw4w9WgXcQ",
		"https://youtu.be/jNQXAC9IVRw",
		"https://youtu.be/9bZkp7q19f0",
		"https://youtu.be/M7lc1UVf-VE",
	}
	job, err := o.Submit(context.Background(), urls, "https://example.com/hook")
	require.NoError(t, err)
	ctx := context.Background()

	store.setTranscriptStatus(job.JobID, 0, domain.TranscriptStatusCompleted)

	require.NoError(t, o.Cancel(ctx, job.JobID))

	got, _ := store.GetJob(ctx, job.JobID)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	transcripts, _ := store.GetJobTranscripts(ctx, job.JobID)
	assert.Equal(t, domain.TranscriptStatusCompleted, transcripts[0].Status)
	for _, tr := range transcripts[1:] {
		assert.Equal(t, domain.TranscriptStatusFailed, tr.Status)
		assert.Equal(t, "job cancelled", tr.ErrorMessage)
	}
	assert.Equal(t, 1, notifier.count())
}

func TestCancel_TerminalJobIsInvalidState(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &memQueue{}, &memNotifier{})

	job, err := o.Submit(context.Background(), []string{"https://youtu.be/dQw4w9WgXcQ"}, "https://example.com/hook")
	require.NoError(t, err)

	store.setTranscriptStatus(job.JobID, 0, domain.TranscriptStatusCompleted)
	require.NoError(t, o.OnTranscriptTransition(context.Background(), job.JobID))

	err = o.Cancel(context.Background(), job.JobID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancel_UnknownJob(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), &memQueue{}, &memNotifier{})

	err := o.Cancel(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

// seedJobs inserts n jobs with distinct creation times, newest last
func seedJobs(store *memStore, n int) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		jobID := fmt.Sprintf("%08d-0000-0000-0000-000000000000", i)
		store.jobs[jobID] = &domain.Job{
			JobID:     jobID,
			Status:    domain.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
}

func TestListJobs_PageNeverExceedsPageSize(t *testing.T) {
	store := newMemStore()
	seedJobs(store, 5)
	o := newTestOrchestrator(store, &memQueue{}, &memNotifier{})

	result, err := o.ListJobs(context.Background(), ListQuery{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Jobs, 2)
	assert.True(t, result.HasMore)
	assert.Equal(t, 5, result.Total)

	// Newest first.
	assert.True(t, result.Jobs[0].CreatedAt.After(result.Jobs[1].CreatedAt))
}

func TestListJobs_ClampsPageSize(t *testing.T) {
	store := newMemStore()
	seedJobs(store, 150)
	o := newTestOrchestrator(store, &memQueue{}, &memNotifier{})

	// Zero falls back to the default page size.
	result, err := o.ListJobs(context.Background(), ListQuery{})
	require.NoError(t, err)
	assert.Len(t, result.Jobs, 20)
	assert.True(t, result.HasMore)

	// Oversized requests are clamped to the configured maximum.
	result, err = o.ListJobs(context.Background(), ListQuery{PageSize: 10_000})
	require.NoError(t, err)
	assert.Len(t, result.Jobs, 100)
	assert.True(t, result.HasMore)
}

// Walking the listing by cursor must visit every job exactly once, no
// duplicates and no skips, regardless of page boundaries.
func TestListJobs_CursorPagesPartitionTheSet(t *testing.T) {
	const total = 7
	const pageSize = 3

	store := newMemStore()
	seedJobs(store, total)
	o := newTestOrchestrator(store, &memQueue{}, &memNotifier{})

	seen := make(map[string]bool)
	var cursor *storage.JobCursor
	pages := 0

	for {
		result, err := o.ListJobs(context.Background(), ListQuery{PageSize: pageSize, Cursor: cursor})
		require.NoError(t, err)
		require.LessOrEqual(t, len(result.Jobs), pageSize)
		pages++

		for _, job := range result.Jobs {
			require.False(t, seen[job.JobID], "job %s returned twice", job.JobID)
			seen[job.JobID] = true
		}

		if !result.HasMore {
			break
		}
		require.NotEmpty(t, result.Jobs)
		last := result.Jobs[len(result.Jobs)-1]
		cursor = &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.JobID}
	}

	assert.Len(t, seen, total)
	assert.Equal(t, 3, pages) // 3 + 3 + 1
}
