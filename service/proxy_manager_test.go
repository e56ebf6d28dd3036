package service

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"sessionproxy/domain"
	"sessionproxy/interfaces"
)

type fakeProcess struct {
	pid   int
	alive bool
}

func (p *fakeProcess) PID() int    { return p.pid }
func (p *fakeProcess) Alive() bool { return p.alive }
func (p *fakeProcess) Kill() error { p.alive = false; return nil }

type fakeLauncher struct {
	launchFunc func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error)
}

func (l *fakeLauncher) Launch(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
	return l.launchFunc(ctx, params)
}

type fakeInspector struct {
	cmdlineFunc func(pid int) ([]string, error)
}

func (i *fakeInspector) Cmdline(pid int) ([]string, error) {
	return i.cmdlineFunc(pid)
}

// startFakeBackend starts a bare grpc.Server bound to port so channel
// readiness checks against it succeed.
func startFakeBackend(t *testing.T, port int) {
	t.Helper()
	lis, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	require.NoError(t, err)
	srv := grpc.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { srv.Stop() })
}

func newTestManager(t *testing.T, launcher interfaces.ProcessLauncher, inspector interfaces.CmdlineInspector) *ProxyManager {
	t.Helper()
	pool := NewPortPool(domain.PortMin, domain.PortMax)
	m := NewProxyManager(NewProxyManagerParams{
		Launcher:            launcher,
		Inspector:           inspector,
		PresetSessionDir:    "/tmp/sessiontest",
		Pool:                pool,
		ReaperInterval:      time.Hour,
		ChannelReadyTimeout: 300 * time.Millisecond,
		Logger:              log.NewNopLogger(),
	})
	t.Cleanup(m.Shutdown)
	return m
}

func TestProxyManager_StartBackend_Success(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		startFakeBackend(t, params.Port)
		return &fakeProcess{pid: 123, alive: true}, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) {
		return []string{"python", "shim.py", domain.StartupFenceToken}, nil
	}}
	m := newTestManager(t, launcher, inspector)

	alive, err := m.StartBackend(context.Background(), domain.ClientId("c1"), domain.DefaultJobConfig())
	require.NoError(t, err)
	assert.True(t, alive)

	conn, err := m.GetChannel(domain.ClientId("c1"))
	require.NoError(t, err)
	assert.NotNil(t, conn)
}

func TestProxyManager_StartBackend_LaunchFailure(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		return nil, assertErr("launch failed")
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) {
		return nil, assertErr("unused")
	}}
	m := newTestManager(t, launcher, inspector)

	alive, err := m.StartBackend(context.Background(), domain.ClientId("c2"), domain.DefaultJobConfig())
	require.NoError(t, err)
	assert.False(t, alive)

	_, err = m.GetChannel(domain.ClientId("c2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestProxyManager_GetChannel_NoRecord(t *testing.T) {
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		return &fakeProcess{alive: true}, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) { return []string{}, nil }}
	m := newTestManager(t, launcher, inspector)

	_, err := m.GetChannel(domain.ClientId("never-started"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestProxyManager_ReapRemovesDeadRecordAndReleasesPort(t *testing.T) {
	proc := &fakeProcess{pid: 99, alive: true}
	launcher := &fakeLauncher{launchFunc: func(ctx context.Context, params interfaces.LaunchParams) (interfaces.Process, error) {
		startFakeBackend(t, params.Port)
		return proc, nil
	}}
	inspector := &fakeInspector{cmdlineFunc: func(pid int) ([]string, error) {
		return []string{"a", "b", domain.StartupFenceToken}, nil
	}}
	m := newTestManager(t, launcher, inspector)

	before := m.pool.Len()
	_, err := m.StartBackend(context.Background(), domain.ClientId("c3"), domain.DefaultJobConfig())
	require.NoError(t, err)
	assert.Equal(t, before-1, m.pool.Len())

	proc.alive = false
	m.reapOnce()

	assert.Equal(t, before, m.pool.Len())
	_, err = m.GetChannel(domain.ClientId("c3"))
	require.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
