package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/folio/internal/extract"
	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/types"
)

// ErrQueueFull is returned by Submit when the work queue is at capacity.
var ErrQueueFull = errors.New("jobs: work queue is full")

const saveAttempts = 3

// ExtractFunc produces a book from raw upload bytes. It matches
// (*extract.Extractor).Extract and exists so tests can substitute a fake.
type ExtractFunc func(ctx context.Context, data []byte, kind types.Kind, progress extract.ProgressFunc) (*types.Book, error)

// ExecutorOptions configures the background executor.
type ExecutorOptions struct {
	// Workers is the number of concurrent processing goroutines.
	Workers int

	// QueueSize bounds how many uploads may wait for a worker. Submissions
	// beyond this fail immediately rather than growing without bound.
	QueueSize int

	// ProcessTimeout caps how long a single upload may spend in
	// extraction and persistence. Zero means no limit.
	ProcessTimeout time.Duration

	Logger *slog.Logger
}

type task struct {
	jobID    string
	data     []byte
	kind     types.Kind
	filename string
}

// Executor runs upload processing on a fixed pool of workers fed by a
// bounded queue, reporting progress through the Tracker.
type Executor struct {
	tracker *Tracker
	lib     *library.Service
	extract ExtractFunc

	queue   chan task
	workers int
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewExecutor creates an executor. Workers and queue size fall back to
// small defaults when unset.
func NewExecutor(tracker *Tracker, lib *library.Service, extractor *extract.Extractor, opts ExecutorOptions) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		tracker: tracker,
		lib:     lib,
		extract: extractor.Extract,
		queue:   make(chan task, opts.QueueSize),
		workers: opts.Workers,
		timeout: opts.ProcessTimeout,
		logger:  opts.Logger.With("component", "executor"),
	}
}

// SetExtractFunc overrides the extraction function. Test hook.
func (e *Executor) SetExtractFunc(fn ExtractFunc) { e.extract = fn }

// Start launches the worker pool. Workers exit once the context is
// cancelled and the queue has drained; Wait blocks until then.
func (e *Executor) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info("executor started", "workers", e.workers, "queue_size", cap(e.queue))
}

// Wait blocks until all workers have exited.
func (e *Executor) Wait() { e.wg.Wait() }

func (e *Executor) worker(ctx context.Context, n int) {
	defer e.wg.Done()
	log := e.logger.With("worker", n)
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued so accepted uploads are not
			// silently dropped on shutdown.
			for {
				select {
				case t := <-e.queue:
					e.process(context.WithoutCancel(ctx), t)
				default:
					log.Debug("worker exiting")
					return
				}
			}
		case t := <-e.queue:
			e.process(ctx, t)
		}
	}
}

// Submit enqueues an upload for background processing and returns the job
// ID to poll. When the queue is full the job is created in the failed
// state and ErrQueueFull is returned alongside its ID.
func (e *Executor) Submit(data []byte, kind types.Kind, filename string) (string, error) {
	job := e.tracker.Create(filename)
	select {
	case e.queue <- task{jobID: job.ID, data: data, kind: kind, filename: filename}:
		return job.ID, nil
	default:
		_ = e.tracker.Fail(job.ID, "server is busy, work queue is full")
		return job.ID, ErrQueueFull
	}
}

// RunSync processes an upload inline on the caller's goroutine, bypassing
// the queue. Used for small uploads and the CLI ingest path. A job record
// is still created so the result is observable through the tracker.
func (e *Executor) RunSync(ctx context.Context, data []byte, kind types.Kind, filename string) (string, error) {
	job := e.tracker.Create(filename)
	return e.run(ctx, job.ID, data, kind, filename)
}

func (e *Executor) process(ctx context.Context, t task) {
	if _, err := e.run(ctx, t.jobID, t.data, t.kind, t.filename); err != nil {
		e.logger.Warn("upload processing failed", "job_id", t.jobID, "filename", t.filename, "error", err)
	}
}

func (e *Executor) run(ctx context.Context, jobID string, data []byte, kind types.Kind, filename string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	_ = e.tracker.Update(jobID, 0, "extracting")

	book, err := e.extract(ctx, data, kind, func(stage string, pct int) {
		_ = e.tracker.Update(jobID, pct, stage)
	})
	if err != nil {
		_ = e.tracker.Fail(jobID, fmt.Sprintf("extraction failed: %v", err))
		return "", err
	}

	book.ID = uuid.New().String()
	book.SourceFile = filename
	if book.Metadata.Title == "" {
		book.Metadata.Title = titleFromFilename(filename)
	}

	_ = e.tracker.Update(jobID, 95, "saving")

	err = retry.Do(
		func() error { return e.lib.SaveBook(book) },
		retry.Context(ctx),
		retry.Attempts(saveAttempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		_ = e.tracker.Fail(jobID, fmt.Sprintf("saving book failed: %v", err))
		return "", err
	}

	_ = e.tracker.Complete(jobID, book.ID)
	return book.ID, nil
}

// titleFromFilename derives a presentable title when the document carries
// none: base name without extension, separators turned into spaces.
func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return "Untitled"
	}
	return base
}
