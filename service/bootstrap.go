package service

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sessionproxy/domain"
	"sessionproxy/service/wire"
)

// Proxier aggregates the three servicers and the underlying gRPC server for
// startup/shutdown (spec.md §4.G Bootstrap).
type Proxier struct {
	Driver  *DriverProxy
	Data    *DataProxy
	Log     *LogProxy
	Manager *ProxyManager
	Server  *grpc.Server
	lis     net.Listener
}

// NewProxier builds one grpc.Server with the raw codec installed and a
// single UnknownServiceHandler dispatching by full method name to the
// driver/data/log servicer (spec.md §4.G, simplified from MyGateway's
// per-route dynamic dispatch since this proxy has a fixed 3-way table).
func NewProxier(manager *ProxyManager, envPrep EnvPrepFunc, logRetryCount int, logRetryInterval time.Duration, logger log.Logger) *Proxier {
	wire.RegisterRawCodec()

	driver := NewDriverProxy(manager, logger)
	data := NewDataProxy(manager, envPrep, logger)
	logProxy := NewLogProxy(manager, logRetryCount, logRetryInterval, logger)

	dispatch := func(srv any, stream grpc.ServerStream) error {
		fullMethod, ok := grpc.MethodFromServerStream(stream)
		if !ok {
			return status.Error(codes.Internal, "missing grpc method in stream context")
		}
		switch {
		case strings.HasPrefix(fullMethod, domain.DriverServiceMethodPrefix):
			return driver.Handler(srv, stream)
		case fullMethod == domain.DataStreamMethod:
			return data.Handler(srv, stream)
		case fullMethod == domain.LogStreamMethod:
			return logProxy.Handler(srv, stream)
		default:
			return status.Errorf(codes.Unimplemented, "method not routed: %s", fullMethod)
		}
	}

	server := grpc.NewServer(
		grpc.ChainStreamInterceptor(ProxyErrorToGRPCStreamInterceptor(logger)),
		grpc.UnknownServiceHandler(dispatch),
	)

	return &Proxier{
		Driver:  driver,
		Data:    data,
		Log:     logProxy,
		Manager: manager,
		Server:  server,
	}
}

// Serve listens on addr and blocks serving until Stop/GracefulStop.
func (p *Proxier) Serve(addr string, logger log.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sessionproxy: listen %s: %w", addr, err)
	}
	p.lis = lis
	level.Info(logger).Log("msg", "serving proxy", "addr", addr)
	return p.Server.Serve(lis)
}

// Shutdown stops the ProxyManager (killing resolved children per spec.md §3
// Teardown). It does not stop the gRPC server; the caller stops Server
// itself (main calls GracefulStop/Stop before Shutdown).
func (p *Proxier) Shutdown() {
	p.Manager.Shutdown()
}
