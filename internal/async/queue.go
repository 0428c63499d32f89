// Package async runs pipeline extractions on a fixed pool of workers.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/ingest"
	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Extractor is the part of the orchestrator the queue needs.
type Extractor interface {
	Extract(ctx context.Context, doc entity.Document) (*pipeline.Result, error)
}

// Job is one document to process. Either Doc carries the bytes or Path
// names a file that is loaded by the worker.
type Job struct {
	ID          string // becomes the run id; generated when empty
	Path        string
	Doc         entity.Document
	SubmittedAt time.Time
	TraceID     string
}

// Outcome is handed to the Handler after each job.
type Outcome struct {
	Job     Job
	Result  *pipeline.Result
	Err     error
	Started bool // the document loaded and the start hook, if any, succeeded
}

// Handler receives every outcome on the worker goroutine that produced it.
type Handler func(ctx context.Context, out Outcome)

// StartHook runs after the document is loaded and before extraction. An
// error skips extraction and becomes the outcome error.
type StartHook func(ctx context.Context, job Job, doc entity.Document) error

type Queue struct {
	ext      Extractor
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	maxBytes int
	handle   Handler
	onStart  StartHook

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithMaxBytes caps files loaded from Job.Path.
func WithMaxBytes(n int) Option {
	return func(q *Queue) { q.maxBytes = n }
}

func WithHandler(h Handler) Option {
	return func(q *Queue) { q.handle = h }
}

func WithStartHook(h StartHook) Option {
	return func(q *Queue) { q.onStart = h }
}

func NewQueue(ext Extractor, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		ext:     ext,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.start", "worker_id", workerID)
				for job := range q.ch {
					q.process(workerID, job)
				}
				q.logger.Debug("queue.worker.stop", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) process(workerID int, job Job) {
	ctx := common.WithRunID(context.Background(), job.ID)
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	logger := common.LoggerWithContext(ctx, q.logger).With("worker_id", workerID)

	out := Outcome{Job: job}
	doc := job.Doc
	if len(doc.Content) == 0 && job.Path != "" {
		doc, out.Err = ingest.LoadDocument(job.Path, q.maxBytes)
	}
	if out.Err == nil && q.onStart != nil {
		out.Err = q.onStart(ctx, job, doc)
	}
	if out.Err == nil {
		out.Started = true
		out.Result, out.Err = q.ext.Extract(ctx, doc)
	}

	if out.Err != nil {
		logger.Error("queue.job.failed", "path", job.Path, "error", out.Err)
	} else {
		logger.Info("queue.job.done",
			"status", out.Result.Status,
			"waited_ms", time.Since(job.SubmittedAt).Milliseconds())
	}
	if q.handle != nil {
		q.handle(ctx, out)
	}
}

// Enqueue submits job and returns its run id. When the buffer is full it
// blocks until a worker frees a slot or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}
	select {
	case q.ch <- job:
	default:
		q.logger.Warn("queue.full", "run_id", job.ID, "capacity", cap(q.ch))
		select {
		case q.ch <- job:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	q.logger.Debug("queue.enqueued", "run_id", job.ID, "path", job.Path, "depth", len(q.ch))
	return job.ID, nil
}

// Shutdown stops intake and waits for queued jobs to finish or ctx to end.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted", "pending", len(q.ch))
		return ctx.Err()
	case <-done:
		q.logger.Info("queue.shutdown.drained")
		return nil
	}
}
