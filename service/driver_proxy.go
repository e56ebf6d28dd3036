package service

import (
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"sessionproxy/domain"
	"sessionproxy/helpers"
	"sessionproxy/service/wire"
)

// driverMethodSet is domain.DriverMethods as a lookup set, built once so
// Handler can reject a method outside the documented table in O(1)
// instead of dispatching it to a backend that never registered it.
var driverMethodSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(domain.DriverMethods))
	for _, m := range domain.DriverMethods {
		set[m] = struct{}{}
	}
	return set
}()

// DriverProxy forwards every unary driver RPC to the caller's backend
// channel (spec.md §4.D). Registered as one branch of Bootstrap's
// UnknownServiceHandler dispatch; simplified from MyGateway's
// TransparentProxy/RouteMatcher longest-prefix routing to a fixed
// method-name table since there is exactly one backend shape per client.
type DriverProxy struct {
	manager *ProxyManager
	logger  log.Logger
}

// NewDriverProxy panics on nil manager/logger (fail-fast at startup).
//
// Parameters: manager — ProxyManager used to resolve the caller's backend channel; logger — base logger, tagged with component=driver_proxy.
//
// Returns: a ready-to-use *DriverProxy.
//
// Called only from NewProxier.
func NewDriverProxy(manager *ProxyManager, logger log.Logger) *DriverProxy {
	return &DriverProxy{
		manager: helpers.NilPanic(manager, "service.driver_proxy.go: manager is required"),
		logger:  log.With(helpers.NilPanic(logger, "service.driver_proxy.go: logger is required"), "component", "driver_proxy"),
	}
}

// Handler implements the per-method handler signature Bootstrap dispatches driver-service RPCs to. Rejects any method outside domain.DriverMethods with Unimplemented. Reads exactly one request frame, forwards to the client's backend with the same full method name, and relays the single response. ClusterInfo with type==PING is answered locally (spec.md §4.D exception) without ever calling ProxyManager.GetChannel.
//
// Parameters: stream — the server-side stream Bootstrap's UnknownServiceHandler hands it; the first parameter (service receiver) is unused.
//
// Returns: nil on a clean relay; ErrProtocolError, ErrMissingClientID, ErrNoBackend or a transport error otherwise (mapped to gRPC status by ProxyErrorToGRPCStreamInterceptor).
//
// Called from NewProxier's UnknownServiceHandler dispatch for every method under domain.DriverServiceMethodPrefix.
func (p *DriverProxy) Handler(_ any, stream grpc.ServerStream) error {
	fullMethod, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return ErrProtocolError
	}
	method := strings.TrimPrefix(fullMethod, domain.DriverServiceMethodPrefix)
	if _, known := driverMethodSet[method]; !known {
		return status.Errorf(codes.Unimplemented, "driver method not routed: %s", fullMethod)
	}

	req := &wire.Frame{}
	if err := stream.RecvMsg(req); err != nil {
		level.Debug(p.logger).Log("msg", "recv from client failed", "method", method, "err", err)
		return err
	}

	// PING is answered before client_id is even examined: it exists so a
	// client can handshake before its backend (or its identity) matters.
	if method == domain.ClusterInfoMethod && wire.IsClusterInfoPing(req.Data) {
		return stream.SendMsg(&wire.Frame{Data: wire.EncodePingClusterInfoResponse()})
	}

	md, _ := metadata.FromIncomingContext(stream.Context())
	clientID, ok := helpers.GetClientID(md)
	if !ok {
		return ErrMissingClientID
	}

	conn, err := p.manager.GetChannel(clientID)
	if err != nil {
		level.Error(p.logger).Log("msg", "no channel for client", "client_id", clientID, "method", method, "err", err)
		return err
	}

	outCtx := metadata.NewOutgoingContext(stream.Context(), helpers.OutgoingClientID(clientID))
	resp := &wire.Frame{}
	if err := conn.Invoke(outCtx, fullMethod, req, resp); err != nil {
		return err
	}
	return stream.SendMsg(resp)
}
