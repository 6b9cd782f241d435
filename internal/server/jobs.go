package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/trigger"
)

// JobService exposes the trigger surface over gRPC.
type JobService struct {
	svc    *trigger.Service
	logger *slog.Logger
}

func NewJobService(svc *trigger.Service, logger *slog.Logger) *JobService {
	return &JobService{svc: svc, logger: common.OrDefault(logger)}
}

func (s *JobService) SubmitJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller := common.UserIDFromContext(ctx)
	if caller == "" {
		return nil, common.UnauthenticatedError("x-user-id is required")
	}
	ref := strings.TrimSpace(stringField(req, "artifact_ref"))
	mode := trigger.Mode(stringField(req, "mode"))

	job, err := s.svc.Submit(ctx, caller, ref, mode)
	if err != nil {
		s.logger.Error("failed to submit job", "owner_id", caller, "artifact_ref", ref, "error", err)
		return nil, common.ToStatus(err)
	}
	s.logger.Info("job submitted", "job_id", job.ID, "owner_id", caller)
	return toStruct(job)
}

func (s *JobService) RequestClaim(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	raw := strings.TrimSpace(req.GetValue())
	if raw == "" {
		return nil, common.InvalidArgumentError("job id is required")
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Error("invalid job id for claim", "job_id", raw, "error", err)
		return nil, common.InvalidArgumentError("job id must be a UUID")
	}

	res, err := s.svc.RequestClaim(ctx, jobID, common.UserIDFromContext(ctx))
	if err != nil {
		s.logger.Error("claim request failed", "job_id", jobID, "error", err)
		return nil, common.ToStatus(err)
	}
	return toStruct(claimReply{Accepted: res.Accepted, Reason: string(res.Reason), Job: res.Job})
}

func (s *JobService) SweepOnce(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.svc.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return nil, common.ToStatus(err)
	}
	reply := sweepReply{Processed: res.Processed}
	if res.Processed {
		reply.JobID = res.JobID.String()
		reply.Status = string(res.Status)
	}
	return toStruct(reply)
}

func (s *JobService) ListJobs(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	caller := common.UserIDFromContext(ctx)
	if caller == "" {
		return nil, status.Error(codes.Unauthenticated, "x-user-id is required")
	}
	jobs, err := s.svc.ListJobs(ctx, caller)
	if err != nil {
		s.logger.Error("failed to list jobs", "owner_id", caller, "error", err)
		return nil, common.ToStatus(err)
	}
	s.logger.Debug("jobs listed", "owner_id", caller, "count", len(jobs))
	return toStruct(jobList{Jobs: jobs})
}
