package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"sessionproxy/domain"
	"sessionproxy/helpers"
	"sessionproxy/interfaces"
)

// Default timing knobs (spec.md §4.C). DefaultReaperInterval and
// DefaultChannelReadyTimeout are overridable via cmd/serveproxier config;
// the startup poll interval and the shutdown await are fixed.
const (
	DefaultReaperInterval       = 30 * time.Second
	DefaultChannelReadyTimeout  = 10 * time.Second
	DefaultStartupPollInterval = 500 * time.Millisecond
	DefaultShutdownAwaitReady  = 100 * time.Millisecond
)

// ProxyManager owns the client-id -> backendRecord map, the port pool, and
// the background reaper. It is the only component with mutable shared state
// (spec.md §5). Unlike the original Python ProxyManager, which used a
// reentrant lock because _get_unused_port ran while already holding the
// manager lock, the manager lock here only ever guards the record map —
// PortPool has its own independent lock — so a plain sync.Mutex suffices;
// Go has no built-in reentrant mutex and reaching for a hand-rolled one
// would be working around a problem this split avoids entirely.
type ProxyManager struct {
	launcher  interfaces.ProcessLauncher
	inspector interfaces.CmdlineInspector
	logger    log.Logger

	redisAddress        string
	fateShare           bool
	channelReadyTimeout time.Duration
	reaperInterval      time.Duration

	mu      sync.Mutex
	records map[domain.ClientId]*backendRecord
	pool    *PortPool

	sessionDirMu       sync.Mutex
	sessionDir         string
	sessionDirResolver interfaces.SessionDirResolver

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewProxyManagerParams groups ProxyManager construction inputs.
type NewProxyManagerParams struct {
	RedisAddress        string
	Launcher            interfaces.ProcessLauncher
	Inspector           interfaces.CmdlineInspector
	SessionDirResolver  interfaces.SessionDirResolver // may be nil if PresetSessionDir is set
	PresetSessionDir    string
	FateShare           bool
	Pool                *PortPool
	ReaperInterval      time.Duration
	ChannelReadyTimeout time.Duration
	Logger              log.Logger
}

// NewProxyManager builds a ProxyManager and starts its background reaper.
// Panics on nil Launcher/Inspector/Pool/Logger (fail-fast at startup,
// matching the teacher's constructor discipline).
func NewProxyManager(p NewProxyManagerParams) *ProxyManager {
	if p.ReaperInterval <= 0 {
		p.ReaperInterval = DefaultReaperInterval
	}
	if p.ChannelReadyTimeout <= 0 {
		p.ChannelReadyTimeout = DefaultChannelReadyTimeout
	}
	m := &ProxyManager{
		launcher:            helpers.NilPanic(p.Launcher, "service.proxy_manager.go: launcher is required"),
		inspector:           helpers.NilPanic(p.Inspector, "service.proxy_manager.go: inspector is required"),
		logger:              log.With(helpers.NilPanic(p.Logger, "service.proxy_manager.go: logger is required"), "component", "proxy_manager"),
		redisAddress:        p.RedisAddress,
		fateShare:           p.FateShare,
		channelReadyTimeout: p.ChannelReadyTimeout,
		reaperInterval:      p.ReaperInterval,
		records:             make(map[domain.ClientId]*backendRecord),
		pool:                helpers.NilPanic(p.Pool, "service.proxy_manager.go: pool is required"),
		sessionDir:          p.PresetSessionDir,
		sessionDirResolver:  p.SessionDirResolver,
		stopCh:              make(chan struct{}),
	}
	go m.reaperLoop()
	return m
}

// StartBackend spawns a child server for client_id bound to a freshly
// acquired port (spec.md §4.C start_backend). A prior record for the same
// client_id is overwritten; callers must serialize calls for the same id
// (DataProxy does, per client stream). Returns (alive, nil) on a completed
// spawn attempt, or (false, err) when no record could be installed: the
// port pool is exhausted (ErrPortExhausted, surfaced by the caller as
// ResourceExhausted) or the backend client connection could not be built.
func (m *ProxyManager) StartBackend(ctx context.Context, clientID domain.ClientId, jobConfig domain.JobConfig) (bool, error) {
	record, port, err := m.installRecord(clientID)
	if err != nil {
		return false, err
	}

	serializedEnv, err := json.Marshal(jobConfig)
	if err != nil {
		// Our own type; Marshal cannot fail for this shape, but guard anyway.
		serializedEnv = []byte("{}")
	}

	sessionDir, err := m.SessionDir()
	if err != nil {
		level.Error(m.logger).Log("msg", "session_dir probe failed", "client_id", clientID, "err", err)
		record.resolveProcess(deadProcess{})
		return false, nil
	}

	proc, err := m.launcher.Launch(ctx, interfaces.LaunchParams{
		RedisAddress:         m.redisAddress,
		Port:                 port,
		FateShare:            m.fateShare,
		ServerType:           "specific-server",
		SerializedRuntimeEnv: serializedEnv,
		SessionDir:           sessionDir,
	})
	if err != nil {
		level.Error(m.logger).Log("msg", "launch failed", "client_id", clientID, "port", port, "err", err)
		record.resolveProcess(deadProcess{})
		return false, nil
	}

	m.awaitStartupFence(clientID, proc)
	alive := proc.Alive()
	record.resolveProcess(proc)
	level.Info(m.logger).Log("msg", "backend started", "client_id", clientID, "port", port, "pid", proc.PID(), "alive", alive)
	return alive, nil
}

// installRecord acquires a port and installs an unresolved record under the
// manager lock, per spec.md §4.C step 1.
func (m *ProxyManager) installRecord(clientID domain.ClientId) (*backendRecord, int, error) {
	port, err := m.pool.Acquire()
	if err != nil {
		return nil, 0, err
	}
	record, err := newBackendRecord(port)
	if err != nil {
		m.pool.Release(port)
		return nil, 0, err
	}
	m.mu.Lock()
	if prior, ok := m.records[clientID]; ok {
		prior.close()
		m.pool.Release(prior.port)
	}
	m.records[clientID] = record
	m.mu.Unlock()
	return record, port, nil
}

// awaitStartupFence polls until the child exits or crosses the shim->real
// executable boundary (spec.md §4.C step 3). cmdline[2] == the fence token
// is the exact check the original Ray proxier makes.
func (m *ProxyManager) awaitStartupFence(clientID domain.ClientId, proc interfaces.Process) {
	for {
		if !proc.Alive() {
			level.Error(m.logger).Log("msg", "backend exited before startup fence", "client_id", clientID, "pid", proc.PID())
			return
		}
		cmdline, err := m.inspector.Cmdline(proc.PID())
		if err != nil {
			// Unsupported platform or transient read failure: the spec
			// treats unsupported introspection as "immediately past the
			// fence"; any other error just means try again next tick,
			// bounded by the process-alive check above.
			if err == interfaces.ErrCmdlineUnsupported {
				return
			}
			time.Sleep(DefaultStartupPollInterval)
			continue
		}
		if len(cmdline) > 2 && cmdline[2] == domain.StartupFenceToken {
			return
		}
		time.Sleep(DefaultStartupPollInterval)
	}
}

// GetChannel returns the backend channel for clientID, blocking on the
// process future (capped only at 24h — spec.md §5: "no explicit timeout") and then
// on channel readiness (10s deadline). Returns ErrNoBackend if the record is
// absent or the channel never becomes ready.
func (m *ProxyManager) GetChannel(clientID domain.ClientId) (*grpc.ClientConn, error) {
	record := m.recordFor(clientID)
	if record == nil {
		level.Error(m.logger).Log("msg", "no backend record", "client_id", clientID)
		return nil, ErrNoBackend
	}
	if _, err := record.awaitReady(24 * time.Hour); err != nil {
		return nil, ErrNoBackend
	}
	if !waitChannelReady(record.conn, m.channelReadyTimeout) {
		level.Error(m.logger).Log("msg", "timeout waiting for channel", "client_id", clientID)
		return nil, ErrNoBackend
	}
	return record.conn, nil
}

func (m *ProxyManager) recordFor(clientID domain.ClientId) *backendRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[clientID]
}

// SessionDir returns the memoized session directory, probing it via
// SessionDirResolver on first call unless a preset value was supplied at
// construction (spec.md §4.C session_dir()). Only a non-empty result is
// memoized: after a probe error or an empty result, the next call probes
// again. With no resolver and no preset it returns "".
func (m *ProxyManager) SessionDir() (string, error) {
	m.sessionDirMu.Lock()
	defer m.sessionDirMu.Unlock()
	if m.sessionDir != "" {
		return m.sessionDir, nil
	}
	if m.sessionDirResolver == nil {
		return "", nil
	}
	dir, err := m.sessionDirResolver.Resolve()
	if err != nil {
		return "", err
	}
	m.sessionDir = dir
	return dir, nil
}

// reaperLoop removes records for children that have exited and returns
// their ports to the pool (spec.md §4.C Reaper). Never blocks on an
// unresolved future.
func (m *ProxyManager) reaperLoop() {
	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reapOnce()
		case <-m.stopCh:
			return
		}
	}
}

func (m *ProxyManager) reapOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for clientID, record := range m.records {
		if record.alive() {
			continue
		}
		record.close()
		m.pool.Release(record.port)
		delete(m.records, clientID)
		level.Info(m.logger).Log("msg", "reaped dead backend", "client_id", clientID, "port", record.port)
	}
}

// Shutdown force-kills every child whose process future resolved, swallows
// timeouts for ones still starting (spec.md §4.C shutdown hook), and stops
// the reaper. Idempotent.
func (m *ProxyManager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		records := make([]*backendRecord, 0, len(m.records))
		for _, r := range m.records {
			records = append(records, r)
		}
		m.mu.Unlock()
		for _, r := range records {
			proc, err := r.awaitReady(DefaultShutdownAwaitReady)
			if err != nil {
				continue // not started yet; swallowed per spec.
			}
			_ = proc.Kill()
		}
	})
}

// waitChannelReady blocks until conn reaches connectivity.Ready or timeout
// elapses, the Go analogue of grpc.channel_ready_future(...).result(timeout).
func waitChannelReady(conn *grpc.ClientConn, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return true
		}
		if !conn.WaitForStateChange(ctx, state) {
			return false
		}
	}
}

// deadProcess is the handle installed when a spawn attempt fails before any
// real Process exists (launch error, session_dir probe failure), so
// GetChannel's awaitReady/Alive checks still have something to observe
// instead of blocking forever.
type deadProcess struct{}

func (deadProcess) PID() int     { return 0 }
func (deadProcess) Alive() bool  { return false }
func (deadProcess) Kill() error  { return nil }
