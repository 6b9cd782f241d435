// Package trigger is the transport-neutral surface callers use to submit
// jobs, request an owner claim, and run a sweep.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/async"
	"github.com/joseph-ayodele/syllabus-jobs/internal/claim"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
	"github.com/joseph-ayodele/syllabus-jobs/internal/repository"
)

// Mode selects how a submitted job gets claimed.
type Mode string

const (
	ModeManual Mode = "manual" // starts unstarted, claimed by its owner
	ModeQueued Mode = "queued" // starts queued, claimed by a sweep
)

// Reason explains a rejected claim.
type Reason string

const (
	ReasonUnauthenticated  Reason = "unauthenticated"
	ReasonNotFound         Reason = "not_found"
	ReasonNotOwner         Reason = "not_owner"
	ReasonAlreadyProcessed Reason = "already_processed"
)

// ClaimResult is what an owner learns synchronously from RequestClaim.
type ClaimResult struct {
	Accepted bool
	Reason   Reason
	Job      *entity.Job
}

// SweepResult reports whether a sweep found and ran a job.
type SweepResult struct {
	Processed bool
	JobID     uuid.UUID
	Status    constants.JobStatus
}

type Service struct {
	jobs   repository.JobRepository
	claims *claim.Coordinator
	exec   async.Executor
	queue  async.Queue
	logger *slog.Logger
}

// NewService wires the surface. exec runs sweeps inline; queue runs owner
// claims in the background.
func NewService(jobs repository.JobRepository, claims *claim.Coordinator, exec async.Executor, queue async.Queue, logger *slog.Logger) *Service {
	return &Service{jobs: jobs, claims: claims, exec: exec, queue: queue, logger: common.OrDefault(logger)}
}

// Submit records a new job for an uploaded artifact.
func (s *Service) Submit(ctx context.Context, ownerID, artifactRef string, mode Mode) (*entity.Job, error) {
	v := common.NewValidator().
		Field("owner_id", ownerID, common.Required, common.MaxLength(255)).
		Field("artifact_ref", artifactRef, common.Required, common.ObjectKey, common.MaxLength(1024))
	if err := v.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
	}

	status := constants.JobStatusUnstarted
	switch mode {
	case ModeManual, "":
	case ModeQueued:
		status = constants.JobStatusQueued
	default:
		return nil, fmt.Errorf("unknown submit mode %q: %w", mode, common.ErrInvalidInput)
	}

	job, err := s.jobs.Insert(ctx, &entity.Job{OwnerID: ownerID, ArtifactRef: artifactRef, Status: status})
	if err != nil {
		return nil, err
	}
	s.logger.Info("trigger.submitted", "job_id", job.ID, "owner_id", ownerID, "mode", mode)
	return job, nil
}

// RequestClaim lets the owner of an unstarted job start it. Execution runs
// in the background; the result only says whether the claim was accepted.
func (s *Service) RequestClaim(ctx context.Context, jobID uuid.UUID, callerID string) (ClaimResult, error) {
	if callerID == "" {
		return ClaimResult{Reason: ReasonUnauthenticated}, nil
	}

	job, ok, err := s.claims.Claim(ctx, jobID, constants.JobStatusUnstarted, callerID)
	if err != nil {
		return ClaimResult{}, err
	}
	if !ok {
		reason, err := s.diagnose(ctx, jobID, callerID)
		if err != nil {
			return ClaimResult{}, err
		}
		s.logger.Info("trigger.claim.rejected", "job_id", jobID, "caller", callerID, "reason", reason)
		return ClaimResult{Reason: reason}, nil
	}

	if err := s.queue.Enqueue(ctx, *job); err != nil {
		s.abandon(ctx, job, err)
		return ClaimResult{}, fmt.Errorf("schedule job %s: %w", jobID, err)
	}
	s.logger.Info("trigger.claim.accepted", "job_id", jobID, "caller", callerID)
	return ClaimResult{Accepted: true, Job: job}, nil
}

// diagnose explains a lost claim with a read-only lookup. The claim itself
// has already been decided by the conditional update.
func (s *Service) diagnose(ctx context.Context, jobID uuid.UUID, callerID string) (Reason, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, common.ErrNotFound) {
		return ReasonNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if job.OwnerID != callerID {
		return ReasonNotOwner, nil
	}
	return ReasonAlreadyProcessed, nil
}

// abandon fails a claimed job that could not be handed to a worker, so it is
// not left in processing.
func (s *Service) abandon(ctx context.Context, job *entity.Job, cause error) {
	msg := "execution could not be scheduled: " + cause.Error()
	_, ok, err := s.jobs.ConditionalUpdate(context.WithoutCancel(ctx), job.ID,
		repository.Predicate{Status: repository.StatusPtr(constants.JobStatusProcessing)},
		repository.Patch{Status: constants.JobStatusFailed, Error: &msg})
	if err != nil || !ok {
		s.logger.Error("trigger.abandon.failed", "job_id", job.ID, "matched", ok, "err", err)
		return
	}
	s.logger.Warn("trigger.abandoned", "job_id", job.ID, "cause", cause)
}

// SweepOnce claims the oldest queued job, if any, and executes it before
// returning. At most one job is processed per call.
func (s *Service) SweepOnce(ctx context.Context) (SweepResult, error) {
	job, ok, err := s.claims.ClaimOldestQueued(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	if !ok {
		return SweepResult{}, nil
	}
	out := s.exec.Execute(ctx, *job)
	s.logger.Info("trigger.sweep.processed", "job_id", job.ID, "status", out.Status, "written", out.Written)
	return SweepResult{Processed: true, JobID: job.ID, Status: out.Status}, nil
}

// ListJobs returns the caller's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, ownerID string) ([]entity.Job, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("list jobs: %w", common.ErrUnauthorized)
	}
	return s.jobs.ListJobsForOwner(ctx, ownerID)
}

// AllJobs lists every job for operator reports.
func (s *Service) AllJobs(ctx context.Context, filter repository.Filter) ([]entity.Job, error) {
	return s.jobs.List(ctx, filter, repository.CreatedDesc)
}
