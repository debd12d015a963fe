// Package grpcapi exposes session verification to other internal services over gRPC.
package grpcapi

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"qazna.org/superadmin/internal/audit"
	"qazna.org/superadmin/internal/auth"
	"qazna.org/superadmin/internal/obs"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "superadmin.v1.SessionGuard"

const (
	methodVerify          = "/" + ServiceName + "/Verify"
	methodCheckPermission = "/" + ServiceName + "/CheckPermission"
)

// TokenVerifier is satisfied by *auth.TokenIssuer.
type TokenVerifier interface {
	Verify(raw string) (auth.Session, error)
}

// SessionGuardServer is the server API for the SessionGuard service.
type SessionGuardServer interface {
	Verify(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	CheckPermission(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server answers token questions from services that never see the signing secret.
type Server struct {
	tokens TokenVerifier
}

func NewServer(tokens TokenVerifier) *Server {
	return &Server{tokens: tokens}
}

// Verify returns the identity carried by a session token.
func (s *Server) Verify(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	sess, err := s.session(req.GetValue())
	if err != nil {
		return nil, err
	}
	return sessionStruct(sess)
}

// CheckPermission expects {"token": string, "permissions": [string...]} and succeeds
// when the session holds at least one of the listed permissions.
func (s *Server) CheckPermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	sess, err := s.session(fields["token"].GetStringValue())
	if err != nil {
		return nil, err
	}
	var wanted []auth.Permission
	for _, v := range fields["permissions"].GetListValue().GetValues() {
		p, err := auth.ParsePermission(v.GetStringValue())
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		wanted = append(wanted, p)
	}
	if len(wanted) == 0 {
		return nil, status.Error(codes.InvalidArgument, "permissions required")
	}
	if !sess.HasAny(wanted...) {
		return nil, status.Error(codes.PermissionDenied, "forbidden")
	}
	return sessionStruct(sess)
}

func (s *Server) session(token string) (auth.Session, error) {
	if token == "" {
		return auth.Session{}, status.Error(codes.Unauthenticated, "token required")
	}
	sess, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return auth.Session{}, status.Error(codes.Unauthenticated, "invalid token")
		}
		return auth.Session{}, status.Error(codes.Internal, "internal error")
	}
	return sess, nil
}

func sessionStruct(sess auth.Session) (*structpb.Struct, error) {
	perms := make([]any, 0, len(sess.Permissions))
	for _, p := range sess.Permissions.Strings() {
		perms = append(perms, p)
	}
	out, err := structpb.NewStruct(map[string]any{
		"session_id":  sess.ID,
		"user_id":     sess.UserID,
		"email":       sess.Email,
		"role":        string(sess.Role),
		"permissions": perms,
		"issued_at":   sess.IssuedAt.UTC().Format(time.RFC3339),
		"expires_at":  sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func verifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionGuardServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodVerify}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionGuardServer).Verify(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func checkPermissionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionGuardServer).CheckPermission(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCheckPermission}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionGuardServer).CheckPermission(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes SessionGuard for grpc.Server.RegisterService. Messages are
// protobuf well-known types, so no generated code is needed.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionGuardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Verify", Handler: verifyHandler},
		{MethodName: "CheckPermission", Handler: checkPermissionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "superadmin/v1/session_guard.proto",
}

// Register installs SessionGuard and the standard health service on gs.
func Register(gs *grpc.Server, srv SessionGuardServer) *health.Server {
	gs.RegisterService(&ServiceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return hs
}

// UnaryLogger logs each call in the same shape as the HTTP request log and carries
// the caller's x-request-id into the context.
func UnaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	var rid string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDKey); len(v) > 0 {
			rid = v[0]
			ctx = audit.WithRequestID(ctx, rid)
		}
	}
	resp, err := handler(ctx, req)
	obs.Logger().Info().
		Str("request_id", rid).
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("rpc_complete")
	return resp, err
}
