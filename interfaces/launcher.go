package interfaces

import "context"

// LaunchParams carries everything start_backend needs to hand to the
// external launch handler (spec.md §1: "a handler to launch a child bound
// to a given TCP port with a serialized job configuration" — one of the two
// external collaborators this proxy consumes without owning).
type LaunchParams struct {
	RedisAddress         string
	Port                 int
	FateShare            bool
	ServerType           string // always "specific-server"
	SerializedRuntimeEnv []byte
	SessionDir           string
}

// Process is a handle to a spawned child: enough to poll liveness and read
// its PID for cmdline introspection. Implemented by adapters.ExecLauncher's
// process wrapper; faked in tests.
type Process interface {
	// PID returns the OS process id of the child.
	PID() int
	// Alive reports whether the process has not yet exited. Never blocks.
	Alive() bool
	// Kill sends a non-graceful termination signal. Idempotent.
	Kill() error
}

// ProcessLauncher starts the per-client backend server process. Implemented
// by adapters.ExecLauncher; faked in tests with an in-process stand-in that
// never actually execs a binary.
//
//go:generate moq -stub -out mock/launcher.go -pkg mock . ProcessLauncher
type ProcessLauncher interface {
	// Launch starts the child bound to params.Port. Returns the process
	// handle immediately after starting (does not wait for the startup
	// fence); ProxyManager.StartBackend polls the returned Process and the
	// CmdlineInspector afterward.
	Launch(ctx context.Context, params LaunchParams) (Process, error)
}
