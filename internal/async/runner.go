package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
)

// Runner is a fixed pool of workers executing claimed jobs off a buffered channel.
type Runner struct {
	exec    Executor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan entity.Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.ch = make(chan entity.Job, n)
		}
	}
}

// WithProcessTimeout bounds a whole execution. Step timeouts inside the
// pipeline normally fire long before this.
func WithProcessTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRunner(exec Executor, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		exec:    exec,
		logger:  common.OrDefault(logger),
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan entity.Job, 64),
	}
	for _, o := range opts {
		o(r)
	}
	r.start()
	return r
}

func (r *Runner) start() {
	r.once.Do(func() {
		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go func(workerID int) {
				defer r.wg.Done()
				r.logger.Info("runner.worker.started", "worker_id", workerID)

				for job := range r.ch {
					ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
					out := r.exec.Execute(ctx, job)
					cancel()

					r.logger.Info("runner.job.finished",
						"worker_id", workerID,
						"job_id", job.ID,
						"status", out.Status,
						"written", out.Written,
						"elapsed_ms", out.Elapsed.Milliseconds(),
					)
				}

				r.logger.Info("runner.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue hands a claimed job to the pool, blocking while the buffer is full.
// The job is already in processing, so callers that get an error must not
// drop it silently.
func (r *Runner) Enqueue(ctx context.Context, job entity.Job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("runner.enqueue.closed", "job_id", job.ID)
		return ErrQueueClosed
	}
	select {
	case r.ch <- job:
		r.logger.Info("runner.enqueued", "job_id", job.ID)
		return nil
	default:
	}

	r.logger.Warn("runner.queue_full", "job_id", job.ID)
	select {
	case r.ch <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue job %s: %w", job.ID, ctx.Err())
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish or ctx to end.
func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); r.wg.Wait() }()

	select {
	case <-ctx.Done():
		r.logger.Warn("runner.shutdown.interrupted")
	case <-done:
		r.logger.Info("runner.shutdown.drained")
	}
}
