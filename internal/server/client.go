package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
	"github.com/joseph-ayodele/syllabus-jobs/internal/trigger"
)

// Client calls JobService on a remote jobsd.
type Client struct {
	cc          grpc.ClientConnInterface
	sweepSecret string
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// WithSweepSecret returns a copy of c that authenticates SweepOnce calls.
func (c *Client) WithSweepSecret(secret string) *Client {
	cp := *c
	cp.sweepSecret = secret
	return &cp
}

func asUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, MetadataUserID, userID)
}

func (c *Client) SubmitJob(ctx context.Context, userID, artifactRef string, mode trigger.Mode) (*entity.Job, error) {
	req, err := structpb.NewStruct(map[string]any{"artifact_ref": artifactRef, "mode": string(mode)})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(asUser(ctx, userID), MethodSubmitJob, req, out); err != nil {
		return nil, err
	}
	var job entity.Job
	if err := fromStruct(out, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Submit is SubmitJob under the name ingest.Submitter expects.
func (c *Client) Submit(ctx context.Context, ownerID, artifactRef string, mode trigger.Mode) (*entity.Job, error) {
	return c.SubmitJob(ctx, ownerID, artifactRef, mode)
}

func (c *Client) RequestClaim(ctx context.Context, userID string, jobID uuid.UUID) (trigger.ClaimResult, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(asUser(ctx, userID), MethodRequestClaim, wrapperspb.String(jobID.String()), out); err != nil {
		return trigger.ClaimResult{}, err
	}
	var reply claimReply
	if err := fromStruct(out, &reply); err != nil {
		return trigger.ClaimResult{}, err
	}
	return trigger.ClaimResult{Accepted: reply.Accepted, Reason: trigger.Reason(reply.Reason), Job: reply.Job}, nil
}

func (c *Client) SweepOnce(ctx context.Context) (trigger.SweepResult, error) {
	if c.sweepSecret != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, MetadataAuthorization, "Bearer "+c.sweepSecret)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodSweepOnce, &emptypb.Empty{}, out); err != nil {
		return trigger.SweepResult{}, err
	}
	var reply sweepReply
	if err := fromStruct(out, &reply); err != nil {
		return trigger.SweepResult{}, err
	}
	res := trigger.SweepResult{Processed: reply.Processed, Status: constants.JobStatus(reply.Status)}
	if reply.JobID != "" {
		id, err := uuid.Parse(reply.JobID)
		if err != nil {
			return trigger.SweepResult{}, fmt.Errorf("sweep reply job id: %w", err)
		}
		res.JobID = id
	}
	return res, nil
}

// ListJobs returns ownerID's jobs. It satisfies watcher.JobLister.
func (c *Client) ListJobs(ctx context.Context, ownerID string) ([]entity.Job, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(asUser(ctx, ownerID), MethodListJobs, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var reply jobList
	if err := fromStruct(out, &reply); err != nil {
		return nil, err
	}
	return reply.Jobs, nil
}
