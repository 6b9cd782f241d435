// Package claim moves claimable jobs into processing with a single
// compare-and-swap, so each job is executed at most once.
package claim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
	"github.com/joseph-ayodele/syllabus-jobs/internal/repository"
)

// Store is the slice of the job store the coordinator needs.
type Store interface {
	ConditionalUpdate(ctx context.Context, id uuid.UUID, pred repository.Predicate, patch repository.Patch) (*entity.Job, bool, error)
	List(ctx context.Context, filter repository.Filter, order repository.Order) ([]entity.Job, error)
}

type Coordinator struct {
	store  Store
	logger *slog.Logger
}

func NewCoordinator(store Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, logger: common.OrDefault(logger)}
}

// Claim atomically moves job id from expected to processing. When ownerID is
// non-empty the job must also belong to that owner. Losing the race, or any
// predicate mismatch, returns (nil, false, nil).
func (c *Coordinator) Claim(ctx context.Context, id uuid.UUID, expected constants.JobStatus, ownerID string) (*entity.Job, bool, error) {
	if !expected.IsClaimable() {
		return nil, false, fmt.Errorf("cannot claim from status %q: %w", expected, common.ErrInvalidInput)
	}

	pred := repository.Predicate{Status: repository.StatusPtr(expected)}
	if ownerID != "" {
		pred.OwnerID = &ownerID
	}
	job, ok, err := c.store.ConditionalUpdate(ctx, id, pred, repository.Patch{Status: constants.JobStatusProcessing})
	if err != nil {
		c.logger.Error("claim.failed", "job_id", id, "expected", expected, "err", err)
		return nil, false, err
	}
	if !ok {
		c.logger.Info("claim.not_claimed", "job_id", id, "expected", expected)
		return nil, false, nil
	}
	c.logger.Info("claim.claimed", "job_id", id, "from", expected, "owner_id", job.OwnerID)
	return job, true, nil
}

// ClaimOldestQueued claims the queued job with the earliest created_at. If
// another claimer takes it first the result is (nil, false, nil); the caller
// simply tries again on its next sweep.
func (c *Coordinator) ClaimOldestQueued(ctx context.Context) (*entity.Job, bool, error) {
	jobs, err := c.store.List(ctx, repository.Filter{
		Statuses: []constants.JobStatus{constants.JobStatusQueued},
		Limit:    1,
	}, repository.CreatedAsc)
	if err != nil {
		c.logger.Error("claim.select_oldest_failed", "err", err)
		return nil, false, err
	}
	if len(jobs) == 0 {
		c.logger.Debug("claim.queue_empty")
		return nil, false, nil
	}
	return c.Claim(ctx, jobs[0].ID, constants.JobStatusQueued, "")
}
