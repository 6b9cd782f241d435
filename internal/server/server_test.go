package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/analysis"
	"github.com/joseph-ayodele/syllabus-jobs/internal/async"
	"github.com/joseph-ayodele/syllabus-jobs/internal/claim"
	"github.com/joseph-ayodele/syllabus-jobs/internal/pipeline"
	"github.com/joseph-ayodele/syllabus-jobs/internal/repository/repotest"
	"github.com/joseph-ayodele/syllabus-jobs/internal/trigger"
	"github.com/joseph-ayodele/syllabus-jobs/internal/watcher"
)

const testSecret = "s3cret"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type okStore struct{}

func (okStore) Probe(context.Context) error { return nil }
func (okStore) Fetch(context.Context, string) ([]byte, error) {
	return []byte("Course: CHEM 110"), nil
}

func startServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	repo := repotest.NewSQLite(t)
	pipe := pipeline.New(pipeline.DefaultConfig(), okStore{}, analysis.NewMockProcessor(0, discard), repo, discard)
	runner := async.NewRunner(pipe, discard, async.WithWorkers(1))
	svc := trigger.NewService(repo, claim.NewCoordinator(repo, discard), pipe, runner, discard)

	srv, _ := NewGRPCServer(svc, testSecret, discard)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		runner.Shutdown(context.Background())
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestJobService_SubmitClaimList(t *testing.T) {
	client := NewClient(startServer(t))
	ctx := context.Background()

	job, err := client.SubmitJob(ctx, "user-U", "user-U/7f3e-syllabus.txt", trigger.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusUnstarted, job.Status)
	assert.Equal(t, "user-U", job.OwnerID)

	res, err := client.RequestClaim(ctx, "user-U", job.ID)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	res, err = client.RequestClaim(ctx, "user-V", job.ID)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, trigger.ReasonNotOwner, res.Reason)

	res, err = client.RequestClaim(ctx, "", job.ID)
	require.NoError(t, err)
	assert.Equal(t, trigger.ReasonUnauthenticated, res.Reason)

	require.Eventually(t, func() bool {
		jobs, err := client.ListJobs(ctx, "user-U")
		return err == nil && len(jobs) == 1 && jobs[0].Status == constants.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	jobs, err := client.ListJobs(ctx, "user-U")
	require.NoError(t, err)
	assert.NotEmpty(t, jobs[0].Output)
	assert.Nil(t, jobs[0].Error)
}

func TestJobService_Errors(t *testing.T) {
	conn := startServer(t)
	client := NewClient(conn)
	ctx := context.Background()

	_, err := client.SubmitJob(ctx, "", "user-U/a.pdf", trigger.ModeManual)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.SubmitJob(ctx, "user-U", "", trigger.ModeManual)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.ListJobs(ctx, "")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	res, err := client.RequestClaim(ctx, "user-U", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, trigger.ReasonNotFound, res.Reason)
}

func TestJobService_SweepRequiresSecret(t *testing.T) {
	conn := startServer(t)
	client := NewClient(conn)
	ctx := context.Background()

	_, err := client.SweepOnce(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.WithSweepSecret("wrong").SweepOnce(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	authed := client.WithSweepSecret(testSecret)
	res, err := authed.SweepOnce(ctx)
	require.NoError(t, err)
	assert.False(t, res.Processed)

	job, err := client.SubmitJob(ctx, "user-U", "user-U/q.txt", trigger.ModeQueued)
	require.NoError(t, err)
	res, err = authed.SweepOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Equal(t, job.ID, res.JobID)
	assert.Equal(t, constants.JobStatusCompleted, res.Status)
}

func TestJobService_Health(t *testing.T) {
	conn := startServer(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestClient_IsWatcherLister(t *testing.T) {
	client := NewClient(startServer(t))
	ctx := context.Background()

	job, err := client.SubmitJob(ctx, "user-U", "user-U/3c9a-notes.txt", trigger.ModeQueued)
	require.NoError(t, err)

	w := watcher.New(client, watcher.StaticIdentity("user-U"), discard)
	_, err = w.Poll(ctx)
	require.NoError(t, err)

	_, err = client.WithSweepSecret(testSecret).SweepOnce(ctx)
	require.NoError(t, err)

	events, err := w.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, watcher.EventCompleted, events[0].Kind)
	assert.Equal(t, job.ID, events[0].JobID)
	assert.Equal(t, "notes.txt", events[0].DisplayName)
}
