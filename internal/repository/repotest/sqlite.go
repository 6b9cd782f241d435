// Package repotest opens throwaway job stores for tests in other packages.
package repotest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/repository"
)

// NewSQLite returns a job repository backed by a fresh sqlite file that is
// removed when the test ends.
func NewSQLite(t testing.TB) repository.JobRepository {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := repository.Open(ctx, repository.Config{
		Driver: common.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "jobs.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { repository.Close(db, logger) })

	require.NoError(t, repository.EnsureSchema(ctx, db, logger))
	return repository.NewJobRepository(db, logger)
}
