package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
)

const (
	MetadataUserID        = "x-user-id"
	MetadataRequestID     = "x-request-id"
	MetadataAuthorization = "authorization"
)

// UnaryInterceptor attaches caller identity and request id to the context,
// guards SweepOnce with the shared sweep secret, and logs every call.
// An empty secret disables remote sweeps.
func UnaryInterceptor(sweepSecret string, logger *slog.Logger) grpc.UnaryServerInterceptor {
	logger = common.OrDefault(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		md, _ := metadata.FromIncomingContext(ctx)

		reqID := first(md, MetadataRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, reqID)
		if user := strings.TrimSpace(first(md, MetadataUserID)); user != "" {
			ctx = common.WithUserID(ctx, user)
		}

		if info.FullMethod == MethodSweepOnce && !common.BearerMatches(first(md, MetadataAuthorization), sweepSecret) {
			logger.Warn("grpc.unauthorized", "method", info.FullMethod, "request_id", reqID)
			return nil, status.Error(codes.Unauthenticated, "sweep requires a valid bearer secret")
		}

		resp, err := handler(ctx, req)
		logger.Info("grpc.call",
			"method", info.FullMethod,
			"request_id", reqID,
			"user_id", common.UserIDFromContext(ctx),
			"code", status.Code(err).String(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
