package service

import (
	"errors"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const msgMissingClientID = "missing client_id metadata"
const msgNoBackend = "no backend for client"
const msgBackendStartupFailed = "backend startup failed"
const msgProtocolError = "first datapath message must be init"

// ProxyErrorToGRPCStreamInterceptor returns a stream server interceptor: runs the handler and maps the returned error via proxyErrorToGRPC (spec.md §7's taxonomy), logging the error for diagnostics.
//
// Parameter logger — logger for "stream handler error" with method and err.
//
// Returns: grpc.StreamServerInterceptor. The error it returns is already a gRPC status (InvalidArgument, NotFound, Aborted, ResourceExhausted, Internal, Unavailable, ...).
//
// Called from NewProxier when creating the gRPC server (grpc.ChainStreamInterceptor).
func ProxyErrorToGRPCStreamInterceptor(logger log.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		if err != nil {
			level.Info(logger).Log(
				"msg", "stream handler error",
				"method", info.FullMethod,
				"err", err,
			)
			err = proxyErrorToGRPC(err)
		}
		return err
	}
}

// proxyErrorToGRPC maps sentinel errors to gRPC status per spec.md §7's taxonomy table: nil → nil; ErrMissingClientID → InvalidArgument; ErrNoBackend → NotFound; ErrBackendStartupFailed → Aborted; ErrPortExhausted → ResourceExhausted "<message>"; ErrProtocolError → Internal (assertion failure, not a client mistake); any gRPC status already set with a known code (!= Unknown) is passed through unchanged; everything else → Unavailable "backend service unavailable".
//
// Parameter err — error returned by handler; nil is allowed.
//
// Returns: nil if err == nil; otherwise *status.Error with the appropriate code and message.
//
// Called from ProxyErrorToGRPCStreamInterceptor after calling the handler.
func proxyErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return s.Err()
	}
	switch {
	case errors.Is(err, ErrMissingClientID):
		return status.Error(codes.InvalidArgument, msgMissingClientID)
	case errors.Is(err, ErrNoBackend):
		return status.Error(codes.NotFound, msgNoBackend)
	case errors.Is(err, ErrBackendStartupFailed):
		return status.Error(codes.Aborted, msgBackendStartupFailed)
	case errors.Is(err, ErrPortExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrProtocolError):
		return status.Error(codes.Internal, msgProtocolError)
	default:
		return status.Error(codes.Unavailable, "backend service unavailable")
	}
}
