// ABOUTME: gRPC server interceptors for panic recovery and per-call logging
// ABOUTME: A panicking handler becomes an INTERNAL status; call results are logged at debug

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/2389/voice-gateway/internal/faults"
)

// RecoveryUnaryInterceptor converts handler panics into INTERNAL errors.
func RecoveryUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
		}()
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor converts handler panics into INTERNAL errors.
func RecoveryStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(logger, info.FullMethod, r)
			}
		}()
		return handler(srv, ss)
	}
}

func recovered(logger *slog.Logger, method string, r any) error {
	logger.Error("panic in handler", "method", method, "panic", r, "stack", string(debug.Stack()))
	return faults.Classify(fmt.Errorf("panic: %v", r)).Err()
}

// LoggingUnaryInterceptor logs each unary call's outcome at debug level.
func LoggingUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc finished",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

// LoggingStreamInterceptor logs each streaming call's outcome and the number
// of messages sent at debug level.
func LoggingStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		wrapped := &countingServerStream{ServerStream: ss}
		err := handler(srv, wrapped)
		logger.Debug("rpc finished",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"sent", wrapped.sent.Load(),
			"duration", time.Since(start),
		)
		return err
	}
}

// countingServerStream wraps a grpc.ServerStream and counts sent messages.
type countingServerStream struct {
	grpc.ServerStream
	sent atomic.Int64
}

// SendMsg forwards to the wrapped stream.
func (w *countingServerStream) SendMsg(m any) error {
	err := w.ServerStream.SendMsg(m)
	if err == nil {
		w.sent.Add(1)
	}
	return err
}
