// Command serveproxier runs the multi-tenant RPC session proxy: it loads
// configuration, wires the process-launch and session-dir adapters, builds
// the ProxyManager and the three servicers, and serves until SIGINT/SIGTERM.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"sessionproxy/adapters"
	"sessionproxy/interfaces"
	"sessionproxy/service"
)

func main() {
	logger := log.NewLogfmtLogger(os.Stderr)
	cfg, err := LoadConfig()
	if err != nil {
		level.Error(logger).Log("msg", "failed to load configuration", "err", err)
		os.Exit(1)
	}

	launcher := adapters.NewExecLauncher(adapters.ExecLauncherBin)
	inspector := adapters.NewProcCmdline()

	var sessionDirResolver = interfaceSessionDirResolver(cfg)

	pool := service.NewPortPool(cfg.PortMin, cfg.PortMax)

	manager := service.NewProxyManager(service.NewProxyManagerParams{
		RedisAddress:        cfg.RedisAddress,
		Launcher:            launcher,
		Inspector:           inspector,
		SessionDirResolver:  sessionDirResolver,
		PresetSessionDir:    cfg.SessionDir,
		FateShare:           cfg.FateShare,
		Pool:                pool,
		ReaperInterval:      cfg.ReaperInterval,
		ChannelReadyTimeout: cfg.ChannelReadyTimeout,
		Logger:              logger,
	})

	proxier := service.NewProxier(manager, nil, cfg.LogRetryCount, cfg.LogRetryInterval, logger)

	go func() {
		if err := proxier.Serve(cfg.ListenAddr, logger); err != nil {
			level.Error(logger).Log("msg", "serve", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	level.Info(logger).Log("msg", "shutting down")

	stopped := make(chan struct{})
	go func() {
		proxier.Server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		proxier.Server.Stop()
	}
	proxier.Shutdown()
}

// interfaceSessionDirResolver returns a nil interface when a preset
// session_dir was supplied via YAML, bypassing the redis probe entirely
// (SPEC_FULL.md §9). Returning the interface type directly (rather than a
// concrete *RedisSessionDirResolver) avoids boxing a typed nil pointer into
// a non-nil interface value.
func interfaceSessionDirResolver(cfg *Config) interfaces.SessionDirResolver {
	if cfg.SessionDir != "" {
		return nil
	}
	return adapters.NewRedisSessionDirResolver(cfg.RedisAddress)
}
