package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/analysis"
	"github.com/joseph-ayodele/syllabus-jobs/internal/async"
	"github.com/joseph-ayodele/syllabus-jobs/internal/claim"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/pipeline"
	"github.com/joseph-ayodele/syllabus-jobs/internal/repository"
	"github.com/joseph-ayodele/syllabus-jobs/internal/repository/repotest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubStore struct {
	probeErr error
}

func (s stubStore) Probe(context.Context) error { return s.probeErr }
func (s stubStore) Fetch(context.Context, string) ([]byte, error) {
	return []byte("Course: BIO 101"), nil
}

type fixture struct {
	svc    *Service
	repo   repository.JobRepository
	runner *async.Runner
}

func newFixture(t *testing.T, store stubStore) *fixture {
	t.Helper()
	repo := repotest.NewSQLite(t)
	cfg := pipeline.DefaultConfig()
	cfg.ProbeTimeout = 100 * time.Millisecond
	cfg.FetchTimeout = 200 * time.Millisecond
	pipe := pipeline.New(cfg, store, analysis.NewMockProcessor(0, discard), repo, discard)
	runner := async.NewRunner(pipe, discard, async.WithWorkers(2))
	t.Cleanup(func() { runner.Shutdown(context.Background()) })

	return &fixture{
		svc:    NewService(repo, claim.NewCoordinator(repo, discard), pipe, runner, discard),
		repo:   repo,
		runner: runner,
	}
}

func (f *fixture) waitForStatus(t *testing.T, id uuid.UUID, want constants.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := f.repo.Get(context.Background(), id)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRequestClaim_OwnerFlowProbeFailure(t *testing.T) {
	f := newFixture(t, stubStore{probeErr: errors.New("storage offline")})
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, "user-U", "user-U/abc-syllabus.pdf", ModeManual)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusUnstarted, job.Status)

	res, err := f.svc.RequestClaim(ctx, job.ID, "user-U")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, constants.JobStatusProcessing, res.Job.Status)

	res, err = f.svc.RequestClaim(ctx, job.ID, "user-U")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonAlreadyProcessed, res.Reason)

	f.waitForStatus(t, job.ID, constants.JobStatusFailed)
	got, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "storage unreachable")
	assert.Nil(t, got.Output)
}

func TestRequestClaim_OwnerFlowCompletes(t *testing.T) {
	f := newFixture(t, stubStore{})
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, "user-U", "user-U/abc-syllabus.txt", "")
	require.NoError(t, err)

	res, err := f.svc.RequestClaim(ctx, job.ID, "user-U")
	require.NoError(t, err)
	require.True(t, res.Accepted)

	f.waitForStatus(t, job.ID, constants.JobStatusCompleted)
}

func TestRequestClaim_Rejections(t *testing.T) {
	f := newFixture(t, stubStore{})
	ctx := context.Background()
	job, err := f.svc.Submit(ctx, "user-U", "user-U/a.pdf", ModeManual)
	require.NoError(t, err)

	res, err := f.svc.RequestClaim(ctx, job.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ClaimResult{Reason: ReasonUnauthenticated}, res)

	res, err = f.svc.RequestClaim(ctx, uuid.New(), "user-U")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)

	res, err = f.svc.RequestClaim(ctx, job.ID, "user-V")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotOwner, res.Reason)

	got, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusUnstarted, got.Status, "rejections never mutate the job")
}

func TestRequestClaim_QueuedJobIsNotOwnerClaimable(t *testing.T) {
	f := newFixture(t, stubStore{})
	ctx := context.Background()
	job, err := f.svc.Submit(ctx, "user-U", "user-U/a.pdf", ModeQueued)
	require.NoError(t, err)

	res, err := f.svc.RequestClaim(ctx, job.ID, "user-U")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonAlreadyProcessed, res.Reason)
}

func TestRequestClaim_SchedulingFailureFailsJob(t *testing.T) {
	f := newFixture(t, stubStore{})
	ctx := context.Background()
	f.runner.Shutdown(ctx)

	job, err := f.svc.Submit(ctx, "user-U", "user-U/a.pdf", ModeManual)
	require.NoError(t, err)

	_, err = f.svc.RequestClaim(ctx, job.ID, "user-U")
	assert.ErrorIs(t, err, async.ErrQueueClosed)

	got, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "could not be scheduled")
}

func TestSweepOnce_ConcurrentSingleJob(t *testing.T) {
	f := newFixture(t, stubStore{})
	ctx := context.Background()
	job, err := f.svc.Submit(ctx, "user-U", "user-U/a.txt", ModeQueued)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		results = make([]SweepResult, 2)
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.SweepOnce(ctx)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, r := range results {
		if r.Processed {
			processed++
			assert.Equal(t, job.ID, r.JobID)
			assert.Equal(t, constants.JobStatusCompleted, r.Status)
		}
	}
	assert.Equal(t, 1, processed)

	got, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status, "sweep executes before returning")
}

func TestSweepOnce_Empty(t *testing.T) {
	f := newFixture(t, stubStore{})
	res, err := f.svc.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Processed)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, stubStore{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "", "user-U/a.pdf", ModeManual)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.svc.Submit(ctx, "user-U", "/etc/passwd", ModeManual)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.svc.Submit(ctx, "user-U", "user-U/a.pdf", Mode("later"))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, stubStore{})
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "user-U", "user-U/a.pdf", ModeManual)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "user-V", "user-V/b.pdf", ModeManual)
	require.NoError(t, err)

	jobs, err := f.svc.ListJobs(ctx, "user-U")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = f.svc.ListJobs(ctx, "")
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	all, err := f.svc.AllJobs(ctx, repository.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
