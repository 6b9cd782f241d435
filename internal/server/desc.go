package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "syllabus.jobs.v1.JobService"

const (
	MethodSubmitJob    = "/" + ServiceName + "/SubmitJob"
	MethodRequestClaim = "/" + ServiceName + "/RequestClaim"
	MethodSweepOnce    = "/" + ServiceName + "/SweepOnce"
	MethodListJobs     = "/" + ServiceName + "/ListJobs"
)

// JobServiceServer is the server side of syllabus.jobs.v1.JobService. The
// messages are protobuf well-known types, so no generated code is needed.
type JobServiceServer interface {
	SubmitJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestClaim(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SweepOnce(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListJobs(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var JobServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitJob", Handler: unary(MethodSubmitJob, func() *structpb.Struct { return new(structpb.Struct) }, JobServiceServer.SubmitJob)},
		{MethodName: "RequestClaim", Handler: unary(MethodRequestClaim, func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, JobServiceServer.RequestClaim)},
		{MethodName: "SweepOnce", Handler: unary(MethodSweepOnce, func() *emptypb.Empty { return new(emptypb.Empty) }, JobServiceServer.SweepOnce)},
		{MethodName: "ListJobs", Handler: unary(MethodListJobs, func() *emptypb.Empty { return new(emptypb.Empty) }, JobServiceServer.ListJobs)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "syllabus/jobs/v1/jobs.proto",
}

// RegisterJobServiceServer registers srv on s.
func RegisterJobServiceServer(s grpc.ServiceRegistrar, srv JobServiceServer) {
	s.RegisterService(&JobServiceDesc, srv)
}

func unary[In proto.Message](
	fullMethod string,
	newIn func() In,
	call func(JobServiceServer, context.Context, In) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newIn()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(JobServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(JobServiceServer), ctx, req.(In))
		}
		return interceptor(ctx, in, info, handler)
	}
}
