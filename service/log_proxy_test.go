package service

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"sessionproxy/domain"
	"sessionproxy/interfaces"
	"sessionproxy/service/wire"
)

// startLogStreamBackend starts a grpc.Server on port whose
// UnknownServiceHandler echoes every Logstream frame back with a "log:"
// prefix, standing in for the real backend's log stream handler.
func startLogStreamBackend(t *testing.T, port int) {
	t.Helper()
	lis, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	require.NoError(t, err)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		for {
			frame := &wire.Frame{}
			if err := stream.RecvMsg(frame); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			reply := append(append([]byte(nil), []byte("log:")...), frame.Data...)
			if err := stream.SendMsg(&wire.Frame{Data: reply}); err != nil {
				return err
			}
		}
	}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
}

func startLogServer(t *testing.T, logProxy *LogProxy) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer(
		grpc.ChainStreamInterceptor(ProxyErrorToGRPCStreamInterceptor(log.NewNopLogger())),
		grpc.UnknownServiceHandler(logProxy.Handler),
	)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestLogProxy_RelaysOnceBackendExists(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		startLogStreamBackend(t, params.Port)
		return &fakeProcess{alive: true}, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) {
		return []string{"a", "b", domain.StartupFenceToken}, nil
	}}
	m := newTestManager(t, launcher, inspector)

	_, err := m.StartBackend(context.Background(), domain.ClientId("log-client-1"), domain.DefaultJobConfig())
	require.NoError(t, err)

	logProxy := NewLogProxy(m, 3, 10*time.Millisecond, log.NewNopLogger())
	conn := startLogServer(t, logProxy)

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("client_id", "log-client-1"))
	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, domain.LogStreamMethod)
	require.NoError(t, err)

	require.NoError(t, stream.SendMsg(&wire.Frame{Data: []byte("hello")}))
	resp := &wire.Frame{}
	require.NoError(t, stream.RecvMsg(resp))
	assert.Equal(t, "log:hello", string(resp.Data))
	require.NoError(t, stream.CloseSend())
}

// TestLogProxy_RetriesUntilBackendAppears models the log-stream-vs-data-
// stream race (spec.md §4.F / the "S3" scenario): the log stream arrives
// before DataProxy has installed a record, and LogProxy must retry until
// one appears rather than failing immediately.
func TestLogProxy_RetriesUntilBackendAppears(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		startLogStreamBackend(t, params.Port)
		return &fakeProcess{alive: true}, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) {
		return []string{"a", "b", domain.StartupFenceToken}, nil
	}}
	m := newTestManager(t, launcher, inspector)

	logProxy := NewLogProxy(m, 5, 20*time.Millisecond, log.NewNopLogger())
	conn := startLogServer(t, logProxy)

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("client_id", "log-client-2"))
	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, domain.LogStreamMethod)
	require.NoError(t, err)

	// Data-stream side installs the backend a little after the log stream
	// has already started dialing.
	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = m.StartBackend(context.Background(), domain.ClientId("log-client-2"), domain.DefaultJobConfig())
	}()

	require.NoError(t, stream.SendMsg(&wire.Frame{Data: []byte("race")}))
	resp := &wire.Frame{}
	require.NoError(t, stream.RecvMsg(resp))
	assert.Equal(t, "log:race", string(resp.Data))
	require.NoError(t, stream.CloseSend())
}

func TestLogProxy_ExhaustsRetriesSurfacesNotFound(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		return &fakeProcess{alive: true}, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) { return []string{}, nil }}
	m := newTestManager(t, launcher, inspector)

	logProxy := NewLogProxy(m, 2, 5*time.Millisecond, log.NewNopLogger())
	conn := startLogServer(t, logProxy)

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("client_id", "never-started"))
	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, domain.LogStreamMethod)
	require.NoError(t, err)

	require.NoError(t, stream.SendMsg(&wire.Frame{Data: []byte("x")}))
	resp := &wire.Frame{}
	err = stream.RecvMsg(resp)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
