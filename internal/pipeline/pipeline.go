// Package pipeline runs one claimed job from artifact probe to terminal write.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/analysis"
	"github.com/joseph-ayodele/syllabus-jobs/internal/artifact"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
	"github.com/joseph-ayodele/syllabus-jobs/internal/repository"
)

// Config bounds every step of an execution.
type Config struct {
	ProbeTimeout     time.Duration
	FetchTimeout     time.Duration // covers all attempts
	FetchAttempts    int
	RetryBackoff     time.Duration
	ProgressInterval time.Duration
	ProcessTimeout   time.Duration
	WriteTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProbeTimeout:     5 * time.Second,
		FetchTimeout:     15 * time.Second,
		FetchAttempts:    2,
		RetryBackoff:     250 * time.Millisecond,
		ProgressInterval: 2 * time.Second,
		ProcessTimeout:   2 * time.Minute,
		WriteTimeout:     10 * time.Second,
	}
}

// ConfigFrom maps the application config onto pipeline settings.
func ConfigFrom(c common.PipelineConfig) Config {
	cfg := DefaultConfig()
	if c.ProbeTimeout > 0 {
		cfg.ProbeTimeout = c.ProbeTimeout
	}
	if c.FetchTimeout > 0 {
		cfg.FetchTimeout = c.FetchTimeout
	}
	if c.FetchAttempts > 0 {
		cfg.FetchAttempts = c.FetchAttempts
	}
	if c.RetryBackoff > 0 {
		cfg.RetryBackoff = c.RetryBackoff
	}
	if c.ProgressInterval > 0 {
		cfg.ProgressInterval = c.ProgressInterval
	}
	if c.ProcessTimeout > 0 {
		cfg.ProcessTimeout = c.ProcessTimeout
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	return cfg
}

// JobWriter is the slice of the job store the pipeline needs.
type JobWriter interface {
	ConditionalUpdate(ctx context.Context, id uuid.UUID, pred repository.Predicate, patch repository.Patch) (*entity.Job, bool, error)
}

// OutputValidator checks processor output before it is stored.
type OutputValidator interface {
	Validate(data []byte) error
}

// Outcome summarizes one execution. Execute never returns an error; the
// outcome is informational.
type Outcome struct {
	JobID   uuid.UUID
	Status  constants.JobStatus
	Failure *Failure
	Written bool
	Elapsed time.Duration
}

// Pipeline coordinates probe, fetch, process and the terminal write.
type Pipeline struct {
	cfg       Config
	store     artifact.Store
	proc      analysis.Processor
	jobs      JobWriter
	validator OutputValidator
	logger    *slog.Logger
}

type Option func(*Pipeline)

// WithValidator checks processor output before completion.
func WithValidator(v OutputValidator) Option {
	return func(p *Pipeline) { p.validator = v }
}

func New(cfg Config, store artifact.Store, proc analysis.Processor, jobs JobWriter, logger *slog.Logger, opts ...Option) *Pipeline {
	if cfg.FetchAttempts < 1 {
		cfg.FetchAttempts = 1
	}
	p := &Pipeline{
		cfg:    cfg,
		store:  store,
		proc:   proc,
		jobs:   jobs,
		logger: common.OrDefault(logger),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Execute drives a job the caller has already claimed into completed or
// failed. Every step failure becomes a failed write; a failed terminal write
// is logged and left alone.
func (p *Pipeline) Execute(ctx context.Context, job entity.Job) Outcome {
	start := time.Now()
	log := p.logger.With("job_id", job.ID, "artifact_ref", job.ArtifactRef)
	log.Info("pipeline.start")

	output, fail := p.run(ctx, job, log)

	var patch repository.Patch
	outcome := Outcome{JobID: job.ID, Failure: fail}
	if fail != nil {
		msg := fail.Message()
		patch = repository.Patch{Status: constants.JobStatusFailed, Error: &msg}
		log.Warn("pipeline.failed", "kind", fail.Kind, "error", msg)
	} else {
		patch = repository.Patch{Status: constants.JobStatusCompleted, Output: output}
	}
	outcome.Status = patch.Status
	outcome.Written = p.writeTerminal(ctx, job.ID, patch, log)
	outcome.Elapsed = time.Since(start)

	log.Info("pipeline.done", "status", outcome.Status, "written", outcome.Written, "elapsed_ms", outcome.Elapsed.Milliseconds())
	return outcome
}

func (p *Pipeline) run(ctx context.Context, job entity.Job, log *slog.Logger) (json.RawMessage, *Failure) {
	if fail := p.probe(ctx, log); fail != nil {
		return nil, fail
	}

	data, fail := p.fetch(ctx, job.ArtifactRef, log)
	if fail != nil {
		return nil, fail
	}

	return p.process(ctx, analysis.Document{Name: path.Base(job.ArtifactRef), Ref: job.ArtifactRef, Data: data}, log)
}

func (p *Pipeline) probe(ctx context.Context, log *slog.Logger) *Failure {
	start := time.Now()
	pctx, cancel := common.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	err := p.store.Probe(pctx)
	if err == nil {
		log.Debug("pipeline.probe.ok", "elapsed_ms", time.Since(start).Milliseconds())
		return nil
	}
	if ctx.Err() != nil {
		return &Failure{Kind: KindCancelled, Err: ctx.Err()}
	}
	if errors.Is(pctx.Err(), context.DeadlineExceeded) {
		log.Error("pipeline.probe.timeout", "timeout", p.cfg.ProbeTimeout)
		return &Failure{Kind: KindProbeTimeout, Err: err, Timeout: p.cfg.ProbeTimeout}
	}
	log.Error("pipeline.probe.failed", "err", err)
	return &Failure{Kind: KindProbeError, Err: err}
}

func (p *Pipeline) fetch(ctx context.Context, ref string, log *slog.Logger) ([]byte, *Failure) {
	start := time.Now()
	fctx, cancel := common.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	stop := startProgress(fctx, p.cfg.ProgressInterval, log, start)
	data, err := p.fetchWithRetry(fctx, ref, log)
	stop()

	if err == nil {
		if len(data) == 0 {
			log.Error("pipeline.fetch.empty")
			return nil, &Failure{Kind: KindEmpty}
		}
		log.Info("pipeline.fetch.ok", "bytes", len(data), "elapsed_ms", time.Since(start).Milliseconds())
		return data, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, &Failure{Kind: KindCancelled, Err: ctx.Err()}
	case errors.Is(fctx.Err(), context.DeadlineExceeded):
		log.Error("pipeline.fetch.timeout", "timeout", p.cfg.FetchTimeout, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, &Failure{Kind: KindFetchTimeout, Err: err, Timeout: p.cfg.FetchTimeout}
	case errors.Is(err, common.ErrNotFound):
		log.Error("pipeline.fetch.missing", "err", err)
		return nil, &Failure{Kind: KindMissing, Err: err}
	default:
		log.Error("pipeline.fetch.failed", "err", err)
		return nil, &Failure{Kind: KindFetchError, Err: err}
	}
}

func (p *Pipeline) fetchWithRetry(ctx context.Context, ref string, log *slog.Logger) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.FetchAttempts; attempt++ {
		data, err := p.store.Fetch(ctx, ref)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil || !artifact.IsRetryable(err) || attempt == p.cfg.FetchAttempts {
			break
		}

		wait := backoff(p.cfg.RetryBackoff, attempt)
		log.Warn("pipeline.fetch.retry", "attempt", attempt, "wait_ms", wait.Milliseconds(), "err", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, lastErr
		case <-t.C:
		}
	}
	return nil, lastErr
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if d > 2*time.Second || d <= 0 {
		d = 2 * time.Second
	}
	return d
}

// startProgress logs every interval until the returned stop func is called.
// No progress line is emitted after stop returns.
func startProgress(ctx context.Context, interval time.Duration, log *slog.Logger, start time.Time) func() {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case <-done:
					return
				default:
				}
				log.Info("pipeline.fetch.progress", "elapsed_ms", time.Since(start).Milliseconds())
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (p *Pipeline) process(ctx context.Context, doc analysis.Document, log *slog.Logger) (json.RawMessage, *Failure) {
	start := time.Now()
	pctx, cancel := common.WithTimeout(ctx, p.cfg.ProcessTimeout)
	defer cancel()

	out, err := p.proc.Process(pctx, doc)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, &Failure{Kind: KindCancelled, Err: ctx.Err()}
		case errors.Is(pctx.Err(), context.DeadlineExceeded):
			log.Error("pipeline.process.timeout", "timeout", p.cfg.ProcessTimeout)
			return nil, &Failure{Kind: KindProcessTimeout, Err: err, Timeout: p.cfg.ProcessTimeout}
		case errors.Is(err, analysis.ErrInvalidOutput):
			log.Error("pipeline.process.invalid_output", "err", err)
			return nil, &Failure{Kind: KindInvalidOutput, Err: err}
		default:
			log.Error("pipeline.process.failed", "err", err)
			return nil, &Failure{Kind: KindProcessError, Err: err}
		}
	}

	if len(out) == 0 || !json.Valid(out) {
		log.Error("pipeline.process.invalid_output", "bytes", len(out))
		return nil, &Failure{Kind: KindInvalidOutput, Err: errors.New("output is not a JSON document")}
	}
	if p.validator != nil {
		if err := p.validator.Validate(out); err != nil {
			log.Error("pipeline.process.invalid_output", "err", err)
			return nil, &Failure{Kind: KindInvalidOutput, Err: err}
		}
	}
	log.Info("pipeline.process.ok", "bytes", len(out), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// writeTerminal records the result on a context that survives the caller's
// cancellation, guarded on the job still being in processing.
func (p *Pipeline) writeTerminal(ctx context.Context, id uuid.UUID, patch repository.Patch, log *slog.Logger) bool {
	wctx, cancel := common.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
	defer cancel()

	_, ok, err := p.jobs.ConditionalUpdate(wctx, id, repository.Predicate{Status: repository.StatusPtr(constants.JobStatusProcessing)}, patch)
	if err != nil {
		log.Error("pipeline.terminal_write.failed", "status", patch.Status, "err", err)
		return false
	}
	if !ok {
		log.Error("pipeline.terminal_write.failed", "status", patch.Status, "reason", "job is no longer processing")
		return false
	}
	return true
}
