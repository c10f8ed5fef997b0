package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/triage-ai/moderation/internal/auth"
	"github.com/triage-ai/moderation/internal/engine"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "moderation.v1.ModerationService"

// ModerationService is the RPC surface. Messages are structpb.Struct so the
// service has no generated code; field names match the HTTP API.
type ModerationService interface {
	CheckPrompt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetBanInfo(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes ModerationService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ModerationService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckPrompt", Handler: unaryHandler("CheckPrompt", ModerationService.CheckPrompt)},
		{MethodName: "GetBanInfo", Handler: unaryHandler("GetBanInfo", ModerationService.GetBanInfo)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "moderation/v1/moderation.proto",
}

func unaryHandler(method string, call func(ModerationService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ModerationService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ModerationService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ModerationServer implements ModerationService on top of the engine.
type ModerationServer struct {
	engine *engine.Engine
	auth   auth.Authenticator
	logger *zap.Logger
}

// NewModerationServer creates a new ModerationServer with the given dependencies.
func NewModerationServer(eng *engine.Engine, authenticator auth.Authenticator, logger *zap.Logger) *ModerationServer {
	return &ModerationServer{
		engine: eng,
		auth:   authenticator,
		logger: logger,
	}
}

// NewGRPCServer builds a grpc.Server with the moderation service and the
// standard health service registered.
func NewGRPCServer(srv *ModerationServer, logger *zap.Logger) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	gs.RegisterService(&ServiceDesc, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

// CheckPrompt implements ModerationService.CheckPrompt.
//
//	in:  {user_id, prompt}
//	out: {allowed, violation_kind, message, action, warning_count, request_id}
func (s *ModerationServer) CheckPrompt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}

	userID := stringField(in, "user_id")
	if strings.TrimSpace(userID) == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	res, err := s.engine.CheckPrompt(ctx, userID, stringField(in, "prompt"))
	if err != nil {
		return nil, s.engineError(err, "CheckPrompt", userID)
	}

	out := map[string]any{
		"allowed":        res.Allowed,
		"violation_kind": nil,
		"message":        nil,
		"warning_count":  res.WarningCount,
		"request_id":     res.RequestID,
	}
	if !res.Allowed {
		out["violation_kind"] = string(res.Kind)
		out["message"] = res.Message
		if res.Action != "" {
			out["action"] = string(res.Action)
		}
	}
	return structpb.NewStruct(out)
}

// GetBanInfo implements ModerationService.GetBanInfo. It never lifts an
// expired restriction; an expired one is reported with sanctioned=false.
//
//	in:  {user_id}
//	out: {sanctioned, permanent, reason, status, expires_at, time_remaining_seconds}
func (s *ModerationServer) GetBanInfo(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}

	userID := stringField(in, "user_id")
	if strings.TrimSpace(userID) == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	info, err := s.engine.GetBanInfo(ctx, userID)
	if err != nil {
		return nil, s.engineError(err, "GetBanInfo", userID)
	}
	if info == nil {
		return structpb.NewStruct(map[string]any{
			"sanctioned":             false,
			"permanent":              false,
			"reason":                 nil,
			"status":                 nil,
			"expires_at":             nil,
			"time_remaining_seconds": nil,
		})
	}

	out := map[string]any{
		"sanctioned":             info.Status != engine.StatusExpiredRestriction,
		"permanent":              info.IsPermanent,
		"reason":                 info.Reason,
		"status":                 string(info.Status),
		"expires_at":             nil,
		"time_remaining_seconds": nil,
	}
	if info.ExpiresAt != nil {
		out["expires_at"] = info.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if info.Status == engine.StatusActiveRestriction {
		out["time_remaining_seconds"] = int64(info.TimeRemaining.Seconds())
	}
	return structpb.NewStruct(out)
}

// authenticate requires a service (or admin) key in the authorization metadata.
func (s *ModerationServer) authenticate(ctx context.Context) error {
	token, err := auth.TokenFromMetadata(ctx)
	if err != nil {
		return status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}
	if _, err := auth.Require(ctx, s.auth, token, auth.RoleService); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			return status.Error(codes.PermissionDenied, err.Error())
		}
		return status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}
	return nil
}

func (s *ModerationServer) engineError(err error, op, userID string) error {
	switch {
	case errors.Is(err, engine.ErrEmptyUserID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	s.logger.Error("moderation rpc failed",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.Error(err),
	)
	return status.Errorf(codes.Internal, "%s failed", op)
}

func stringField(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	return in.GetFields()[key].GetStringValue()
}
