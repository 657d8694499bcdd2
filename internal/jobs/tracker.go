// Package jobs tracks background upload processing: an in-memory registry
// of upload jobs polled by clients, plus the executor that runs extraction
// off the request path.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of an upload job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultRetention is how long terminal jobs remain pollable.
const DefaultRetention = time.Hour

// Tracker errors.
var (
	ErrJobNotFound = errors.New("jobs: job not found")
	ErrJobTerminal = errors.New("jobs: job already in terminal state")
)

// UploadJob is the tracked record for one upload. Records are mutated only
// by the executor; pollers receive value copies.
type UploadJob struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   Status `json:"status"`

	// Progress is 0-100 and non-decreasing for the life of the job.
	Progress int    `json:"progress"`
	Stage    string `json:"stage,omitempty"`

	// BookID is set on completion; Error on failure.
	BookID string `json:"book_id,omitempty"`
	Error  string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker is the shared registry of upload jobs. All operations are safe
// under concurrent access from the executor and many pollers.
type Tracker struct {
	mu     sync.RWMutex
	jobs   map[string]*UploadJob
	logger *slog.Logger
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		jobs:   make(map[string]*UploadJob),
		logger: logger.With("component", "jobs"),
	}
}

// Create registers a new queued job and returns a copy of its record.
func (t *Tracker) Create(filename string) UploadJob {
	now := time.Now().UTC()
	job := &UploadJob{
		ID:        uuid.New().String(),
		Filename:  filename,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.jobs[job.ID] = job
	t.mu.Unlock()

	t.logger.Info("job created", "job_id", job.ID, "filename", filename)
	return *job
}

// Update moves a job to processing with the given progress and stage.
// Progress never decreases; updates to terminal jobs are rejected.
func (t *Tracker) Update(id string, progress int, stage string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, id)
	}

	job.Status = StatusProcessing
	if progress > job.Progress {
		job.Progress = min(progress, 100)
	}
	if stage != "" {
		job.Stage = stage
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete marks a job as successfully finished with its resulting book.
func (t *Tracker) Complete(id, bookID string) error {
	return t.finish(id, func(job *UploadJob) {
		job.Status = StatusCompleted
		job.Progress = 100
		job.Stage = "done"
		job.BookID = bookID
	})
}

// Fail marks a job as failed with a human-readable cause.
func (t *Tracker) Fail(id, cause string) error {
	return t.finish(id, func(job *UploadJob) {
		job.Status = StatusFailed
		job.Stage = "failed"
		job.Error = cause
	})
}

func (t *Tracker) finish(id string, apply func(*UploadJob)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, id)
	}
	apply(job)
	job.UpdatedAt = time.Now().UTC()
	t.logger.Info("job finished", "job_id", id, "status", job.Status, "error", job.Error)
	return nil
}

// Get returns a copy of the job record, or ErrJobNotFound after expiry.
func (t *Tracker) Get(id string) (UploadJob, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return UploadJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *job, nil
}

// List returns copies of all non-expired jobs, most recent first.
func (t *Tracker) List() []UploadJob {
	t.mu.RLock()
	list := make([]UploadJob, 0, len(t.jobs))
	for _, job := range t.jobs {
		list = append(list, *job)
	}
	t.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Sweep removes terminal jobs older than the retention window, measured
// from their last update. Returns the number removed.
func (t *Tracker) Sweep(retention time.Duration) int {
	cutoff := time.Now().UTC().Add(-retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, job := range t.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Debug("swept expired jobs", "removed", removed)
	}
	return removed
}

// Run sweeps expired jobs periodically until the context is cancelled.
// Run in a goroutine.
func (t *Tracker) Run(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(retention)
		}
	}
}
