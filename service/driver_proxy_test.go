package service

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"

	"sessionproxy/domain"
	"sessionproxy/interfaces"
	"sessionproxy/service/wire"
)

func init() {
	wire.RegisterRawCodec()
}

// startEchoBackend starts a bare grpc.Server bound to port whose
// UnknownServiceHandler relays every request frame back with "-echo"
// appended, standing in for a real backend child process.
func startEchoBackend(t *testing.T, port int) {
	t.Helper()
	lis, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	require.NoError(t, err)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		req := &wire.Frame{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		return stream.SendMsg(&wire.Frame{Data: append(append([]byte(nil), req.Data...), []byte("-echo")...)})
	}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
}

func startDriverServer(t *testing.T, driver *DriverProxy) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer(
		grpc.ChainStreamInterceptor(ProxyErrorToGRPCStreamInterceptor(log.NewNopLogger())),
		grpc.UnknownServiceHandler(driver.Handler),
	)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDriverProxy_ForwardsToBackend(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		startEchoBackend(t, params.Port)
		return &fakeProcess{alive: true}, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) {
		return []string{"a", "b", domain.StartupFenceToken}, nil
	}}
	m := newTestManager(t, launcher, inspector)

	alive, err := m.StartBackend(context.Background(), domain.ClientId("cid-1"), domain.DefaultJobConfig())
	require.NoError(t, err)
	require.True(t, alive)

	driver := NewDriverProxy(m, log.NewNopLogger())
	conn := startDriverServer(t, driver)

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("client_id", "cid-1"))
	req := &wire.Frame{Data: []byte("payload")}
	resp := &wire.Frame{}
	invokeErr := conn.Invoke(ctx, "/ray.rpc.RayletDriver/GetObject", req, resp)
	require.NoError(t, invokeErr)
	assert.Equal(t, "payload-echo", string(resp.Data))
}

func TestDriverProxy_MissingClientID(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		return &fakeProcess{alive: true}, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) { return []string{}, nil }}
	m := newTestManager(t, launcher, inspector)
	driver := NewDriverProxy(m, log.NewNopLogger())
	conn := startDriverServer(t, driver)

	req := &wire.Frame{Data: []byte("payload")}
	resp := &wire.Frame{}
	err := conn.Invoke(context.Background(), "/ray.rpc.RayletDriver/GetObject", req, resp)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDriverProxy_UnknownClientIDSurfacesNotFound(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		return &fakeProcess{alive: true}, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) { return []string{}, nil }}
	m := newTestManager(t, launcher, inspector)
	driver := NewDriverProxy(m, log.NewNopLogger())
	conn := startDriverServer(t, driver)

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("client_id", "never-started"))
	req := &wire.Frame{Data: []byte("payload")}
	resp := &wire.Frame{}
	err := conn.Invoke(ctx, "/ray.rpc.RayletDriver/GetObject", req, resp)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func encodeClusterInfoTypeForTest(v uint64) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, v)
	return out
}

func TestDriverProxy_ClusterInfoPing_NoClientIDNeeded(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		return &fakeProcess{alive: true}, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) { return []string{}, nil }}
	m := newTestManager(t, launcher, inspector)
	driver := NewDriverProxy(m, log.NewNopLogger())
	conn := startDriverServer(t, driver)

	req := &wire.Frame{Data: encodeClusterInfoTypeForTest(wire.ClusterInfoTypePing)}
	resp := &wire.Frame{}
	err := conn.Invoke(context.Background(), "/ray.rpc.RayletDriver/ClusterInfo", req, resp)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Data)
}
