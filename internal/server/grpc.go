package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// The gRPC server only carries the health service. Check is polled by
// orchestrators and Watch stays open for as long as the caller wants.

func (s *httpGRPCServer) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = s.recovered(info.FullMethod, rec)
		}
		s.logger.Log(ctx, grpcLevel(ctx, err), "gRPC call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()
	return handler(ctx, req)
}

func (s *httpGRPCServer) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = s.recovered(info.FullMethod, rec)
		}
		level := grpcLevel(ss.Context(), err)
		s.logger.Log(ss.Context(), max(level, slog.LevelInfo), "gRPC stream closed",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start).Round(time.Millisecond).String(),
		)
	}()
	return handler(srv, ss)
}

func (s *httpGRPCServer) recovered(method string, rec any) error {
	s.logger.Error("Panic in gRPC handler",
		"method", method,
		"error", rec,
		"stack", string(debug.Stack()),
	)
	return status.Error(codes.Internal, "internal server error")
}

// grpcLevel maps a call outcome to a log level. Caller errors and calls the
// caller abandoned are not server faults.
func grpcLevel(ctx context.Context, err error) slog.Level {
	switch status.Code(err) {
	case codes.OK:
		return slog.LevelDebug
	case codes.Canceled, codes.DeadlineExceeded, codes.NotFound,
		codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return slog.LevelInfo
	}
	if ctx.Err() != nil {
		return slog.LevelWarn
	}
	return slog.LevelError
}
