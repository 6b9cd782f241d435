package async

import (
	"context"
	"errors"

	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
	"github.com/joseph-ayodele/syllabus-jobs/internal/pipeline"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Executor runs one claimed job to its terminal state.
type Executor interface {
	Execute(ctx context.Context, job entity.Job) pipeline.Outcome
}

// Queue accepts claimed jobs for background execution.
type Queue interface {
	Enqueue(ctx context.Context, job entity.Job) error
	Shutdown(ctx context.Context)
}
