package claim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
	"github.com/joseph-ayodele/syllabus-jobs/internal/repository"
	"github.com/joseph-ayodele/syllabus-jobs/internal/repository/repotest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func insert(t *testing.T, repo repository.JobRepository, owner string, status constants.JobStatus) *entity.Job {
	t.Helper()
	job, err := repo.Insert(context.Background(), &entity.Job{OwnerID: owner, ArtifactRef: owner + "/a.pdf", Status: status})
	require.NoError(t, err)
	return job
}

func TestClaim_Unstarted(t *testing.T) {
	repo := repotest.NewSQLite(t)
	c := NewCoordinator(repo, discard)
	ctx := context.Background()
	job := insert(t, repo, "user-1", constants.JobStatusUnstarted)

	_, ok, err := c.Claim(ctx, job.ID, constants.JobStatusUnstarted, "user-2")
	require.NoError(t, err)
	assert.False(t, ok, "wrong owner")

	_, ok, err = c.Claim(ctx, job.ID, constants.JobStatusQueued, "user-1")
	require.NoError(t, err)
	assert.False(t, ok, "wrong expected status")

	claimed, ok, err := c.Claim(ctx, job.ID, constants.JobStatusUnstarted, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, constants.JobStatusProcessing, claimed.Status)

	_, ok, err = c.Claim(ctx, job.ID, constants.JobStatusUnstarted, "user-1")
	require.NoError(t, err)
	assert.False(t, ok, "a second claim must lose")
}

func TestClaim_RejectsNonClaimableExpected(t *testing.T) {
	c := NewCoordinator(repotest.NewSQLite(t), discard)
	_, _, err := c.Claim(context.Background(), uuid.New(), constants.JobStatusProcessing, "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestClaim_MissingJobIsNotClaimed(t *testing.T) {
	c := NewCoordinator(repotest.NewSQLite(t), discard)
	job, ok, err := c.Claim(context.Background(), uuid.New(), constants.JobStatusQueued, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, job)
}

func TestClaim_ConcurrentClaimersOneWinner(t *testing.T) {
	repo := repotest.NewSQLite(t)
	c := NewCoordinator(repo, discard)
	job := insert(t, repo, "user-1", constants.JobStatusUnstarted)

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.Claim(context.Background(), job.ID, constants.JobStatusUnstarted, "user-1")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestClaimOldestQueued_FIFO(t *testing.T) {
	repo := repotest.NewSQLite(t)
	c := NewCoordinator(repo, discard)
	ctx := context.Background()

	_, ok, err := c.ClaimOldestQueued(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty queue")

	insert(t, repo, "user-1", constants.JobStatusUnstarted)
	first := insert(t, repo, "user-1", constants.JobStatusQueued)
	second := insert(t, repo, "user-2", constants.JobStatusQueued)

	got, ok, err := c.ClaimOldestQueued(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)

	got, ok, err = c.ClaimOldestQueued(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)

	_, ok, err = c.ClaimOldestQueued(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "unstarted jobs are never swept")
}

// racingStore lets another claimer win between select and update.
type racingStore struct {
	Store
	stolen bool
}

func (s *racingStore) ConditionalUpdate(ctx context.Context, id uuid.UUID, pred repository.Predicate, patch repository.Patch) (*entity.Job, bool, error) {
	if !s.stolen {
		s.stolen = true
		if _, _, err := s.Store.ConditionalUpdate(ctx, id, pred, patch); err != nil {
			return nil, false, err
		}
	}
	return s.Store.ConditionalUpdate(ctx, id, pred, patch)
}

func TestClaimOldestQueued_LostRace(t *testing.T) {
	repo := repotest.NewSQLite(t)
	insert(t, repo, "user-1", constants.JobStatusQueued)
	c := NewCoordinator(&racingStore{Store: repo}, discard)

	job, ok, err := c.ClaimOldestQueued(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, job)
}

type errStore struct{ Store }

func (errStore) List(context.Context, repository.Filter, repository.Order) ([]entity.Job, error) {
	return nil, common.ErrDatabase
}

func TestClaimOldestQueued_StoreError(t *testing.T) {
	c := NewCoordinator(errStore{}, discard)
	_, _, err := c.ClaimOldestQueued(context.Background())
	assert.True(t, errors.Is(err, common.ErrDatabase))
}
